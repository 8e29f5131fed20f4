package app

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/mossy-p/huddle/internal/apperr"
	"github.com/mossy-p/huddle/internal/atproto"
	"github.com/mossy-p/huddle/internal/events"
	"github.com/mossy-p/huddle/internal/models"
	"github.com/mossy-p/huddle/internal/session"
)

const maxUsernameLength = 64

// AuthState is the auth-state-changed payload.
type AuthState struct {
	SignedIn bool         `json:"signedIn"`
	User     *models.User `json:"user,omitempty"`
}

// Resume restores the stored session at startup. A record that cannot be
// refreshed is deleted so the user is asked to sign in again.
func (a *App) Resume(ctx context.Context) error {
	rec, err := a.sessions.Load(ctx)
	if errors.Is(err, session.ErrNoSession) {
		return nil
	}
	if err != nil {
		a.logger.Warn("Discarding unreadable session", zap.Error(err))
		return a.forgetSession(ctx)
	}

	profile, err := session.ProfileFromToken(rec.RefreshJWT)
	if err != nil || profile.Expired(a.now()) {
		a.logger.Info("Stored session expired", zap.String("handle", rec.Handle))
		return a.forgetSession(ctx)
	}

	sess, err := a.social.RefreshSession(ctx, rec.RefreshJWT)
	if err != nil {
		a.logger.Warn("Session refresh failed", zap.String("handle", rec.Handle), zap.Error(err))
		return a.forgetSession(ctx)
	}

	next := sess.Record()
	next.DisplayName = rec.DisplayName
	if next.Email == "" {
		next.Email = rec.Email
	}
	_, err = a.establish(ctx, next)
	return err
}

func (a *App) SignUp(ctx context.Context, email, handle, password string) (models.User, error) {
	const op = "sign up"
	email, handle = strings.TrimSpace(email), strings.TrimSpace(handle)
	if email == "" || handle == "" || password == "" {
		return models.User{}, apperr.Validation(op, errors.New("email, handle and password are required"))
	}

	sess, err := a.social.CreateAccount(ctx, atproto.CreateAccountInput{Email: email, Handle: handle, Password: password})
	if err != nil {
		return models.User{}, err
	}
	return a.establish(ctx, sess.Record())
}

func (a *App) SignIn(ctx context.Context, identifier, password string) (models.User, error) {
	const op = "sign in"
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return models.User{}, apperr.Validation(op, errors.New("identifier and password are required"))
	}

	sess, err := a.social.CreateSession(ctx, identifier, password)
	if err != nil {
		return models.User{}, err
	}
	return a.establish(ctx, sess.Record())
}

// SignOut revokes the session on the server when possible and always
// forgets it locally.
func (a *App) SignOut(ctx context.Context) error {
	a.mu.RLock()
	rec := a.record
	a.mu.RUnlock()

	if rec != nil {
		if err := a.social.DeleteSession(ctx, rec.RefreshJWT); err != nil {
			a.logger.Warn("Failed to revoke session", zap.Error(err))
		}
	}
	return a.forgetSession(ctx)
}

// CurrentUser returns nil when nobody is signed in.
func (a *App) CurrentUser() *models.User {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.user == nil {
		return nil
	}
	u := *a.user
	return &u
}

// SetUsername sets the name shown to other participants.
func (a *App) SetUsername(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperr.Validation("set username", errors.New("username is required"))
	}
	if utf8.RuneCountInString(name) > maxUsernameLength {
		return apperr.Validation("set username", errors.New("username is too long"))
	}

	a.mu.Lock()
	a.username = name
	a.mu.Unlock()
	return nil
}

// DisplayName is the name attached to outgoing messages and transcripts.
func (a *App) DisplayName() string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	switch {
	case a.username != "":
		return a.username
	case a.user != nil && a.user.DisplayName != "":
		return a.user.DisplayName
	case a.user != nil:
		return a.user.Handle
	}
	return "Anonymous"
}

// establish fills in the profile, persists the record and announces the
// signed-in user.
func (a *App) establish(ctx context.Context, rec models.SessionRecord) (models.User, error) {
	user := rec.User()

	profile, err := a.social.GetProfile(ctx, rec.AccessJWT, rec.DID)
	if err != nil {
		a.logger.Warn("Failed to fetch profile", zap.String("did", rec.DID), zap.Error(err))
	} else {
		if profile.DisplayName != "" {
			rec.DisplayName = profile.DisplayName
			user.DisplayName = profile.DisplayName
		}
		user.Avatar = profile.Avatar
	}

	if err := a.sessions.Save(ctx, rec); err != nil {
		return models.User{}, apperr.New(apperr.KindInternal, "save session", err)
	}

	a.mu.Lock()
	a.record = &rec
	a.user = &user
	a.mu.Unlock()

	a.logger.Info("Signed in", zap.String("handle", user.Handle))
	a.bus.Publish(events.AuthStateChanged, AuthState{SignedIn: true, User: &user})
	return user, nil
}

func (a *App) forgetSession(ctx context.Context) error {
	a.mu.Lock()
	wasSignedIn := a.user != nil
	a.record = nil
	a.user = nil
	a.mu.Unlock()

	if err := a.sessions.Delete(ctx); err != nil {
		return apperr.New(apperr.KindInternal, "delete session", err)
	}
	if wasSignedIn {
		a.bus.Publish(events.AuthStateChanged, AuthState{SignedIn: false})
	}
	return nil
}
