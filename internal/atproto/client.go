// Package atproto wraps the indigo XRPC client for the account and profile
// calls the app needs from an AT Protocol service.
package atproto

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	appbsky "github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/xrpc"
	"go.uber.org/zap"

	"github.com/mossy-p/huddle/internal/apperr"
	"github.com/mossy-p/huddle/internal/models"
)

const (
	nsidCreateAccount  = "com.atproto.server.createAccount"
	nsidCreateSession  = "com.atproto.server.createSession"
	nsidRefreshSession = "com.atproto.server.refreshSession"
	nsidDeleteSession  = "com.atproto.server.deleteSession"
	nsidGetProfile     = "app.bsky.actor.getProfile"
)

// XRPCError is the error an XRPC server answered with.
type XRPCError struct {
	StatusCode int
	Name       string
	Message    string
}

func (e *XRPCError) Error() string {
	switch {
	case e.Message != "" && e.Name != "":
		return fmt.Sprintf("%s: %s", e.Name, e.Message)
	case e.Message != "":
		return e.Message
	case e.Name != "":
		return e.Name
	}
	return fmt.Sprintf("xrpc status %d", e.StatusCode)
}

// Session is the token pair and account returned by the session calls.
type Session struct {
	AccessJWT  string `json:"accessJwt"`
	RefreshJWT string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	DID        string `json:"did"`
	Email      string `json:"email,omitempty"`
}

// Record converts the session for the session store.
func (s Session) Record() models.SessionRecord {
	return models.SessionRecord{
		RefreshJWT: s.RefreshJWT,
		AccessJWT:  s.AccessJWT,
		DID:        s.DID,
		Handle:     s.Handle,
		Email:      s.Email,
	}
}

type Profile struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

type CreateAccountInput struct {
	Email    string `json:"email"`
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

type Client struct {
	host       string
	inviteCode string
	http       *http.Client
	logger     *zap.Logger
}

func NewClient(serviceURL, inviteCode string, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(serviceURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid AT Protocol service URL %q", serviceURL)
	}
	return &Client{
		host:       u.String(),
		inviteCode: inviteCode,
		http:       &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}, nil
}

// xrpc returns a client authenticated with token. Refresh and delete
// session calls authenticate with the refresh token in place of the access
// token.
func (c *Client) xrpc(token string) *xrpc.Client {
	xc := &xrpc.Client{Client: c.http, Host: c.host}
	if token != "" {
		xc.Auth = &xrpc.AuthInfo{AccessJwt: token}
	}
	return xc
}

// CreateAccount registers a new account with the configured invite code.
func (c *Client) CreateAccount(ctx context.Context, in CreateAccountInput) (Session, error) {
	input := &comatproto.ServerCreateAccount_Input{
		Email:    &in.Email,
		Handle:   in.Handle,
		Password: &in.Password,
	}
	if c.inviteCode != "" {
		input.InviteCode = &c.inviteCode
	}

	out, err := comatproto.ServerCreateAccount(ctx, c.xrpc(""), input)
	if err != nil {
		return Session{}, c.classify(nsidCreateAccount, err)
	}
	return Session{
		AccessJWT:  out.AccessJwt,
		RefreshJWT: out.RefreshJwt,
		Handle:     out.Handle,
		DID:        out.Did,
		Email:      in.Email,
	}, nil
}

func (c *Client) CreateSession(ctx context.Context, identifier, password string) (Session, error) {
	out, err := comatproto.ServerCreateSession(ctx, c.xrpc(""), &comatproto.ServerCreateSession_Input{
		Identifier: identifier,
		Password:   password,
	})
	if err != nil {
		return Session{}, c.classify(nsidCreateSession, err)
	}
	return Session{
		AccessJWT:  out.AccessJwt,
		RefreshJWT: out.RefreshJwt,
		Handle:     out.Handle,
		DID:        out.Did,
		Email:      deref(out.Email),
	}, nil
}

// RefreshSession trades a refresh token for a new token pair.
func (c *Client) RefreshSession(ctx context.Context, refreshJWT string) (Session, error) {
	out, err := comatproto.ServerRefreshSession(ctx, c.xrpc(refreshJWT))
	if err != nil {
		return Session{}, c.classify(nsidRefreshSession, err)
	}
	return Session{
		AccessJWT:  out.AccessJwt,
		RefreshJWT: out.RefreshJwt,
		Handle:     out.Handle,
		DID:        out.Did,
	}, nil
}

// DeleteSession revokes the refresh token on the server.
func (c *Client) DeleteSession(ctx context.Context, refreshJWT string) error {
	if err := comatproto.ServerDeleteSession(ctx, c.xrpc(refreshJWT)); err != nil {
		return c.classify(nsidDeleteSession, err)
	}
	return nil
}

func (c *Client) GetProfile(ctx context.Context, accessJWT, actor string) (Profile, error) {
	out, err := appbsky.ActorGetProfile(ctx, c.xrpc(accessJWT), actor)
	if err != nil {
		return Profile{}, c.classify(nsidGetProfile, err)
	}
	return Profile{
		DID:         out.Did,
		Handle:      out.Handle,
		DisplayName: deref(out.DisplayName),
		Avatar:      deref(out.Avatar),
	}, nil
}

// classify maps an indigo error onto the app's error kinds: server answers
// are external, failures to reach the server are transport.
func (c *Client) classify(nsid string, err error) error {
	var xerr *xrpc.Error
	if errors.As(err, &xerr) {
		out := &XRPCError{StatusCode: xerr.StatusCode}
		var body *xrpc.XRPCError
		if errors.As(xerr.Wrapped, &body) {
			out.Name = body.ErrStr
			out.Message = body.Message
		} else if xerr.Wrapped != nil {
			out.Message = xerr.Wrapped.Error()
		}
		c.logger.Debug("XRPC call failed", zap.String("nsid", nsid), zap.Int("status", out.StatusCode), zap.Error(out))
		return apperr.External(nsid, out)
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Transport(nsid, err)
	}
	return apperr.External(nsid, err)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
