// Package app holds the backend's session context: every component the
// bridge calls into, and the order they are torn down in.
package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mossy-p/huddle/internal/atproto"
	"github.com/mossy-p/huddle/internal/events"
	"github.com/mossy-p/huddle/internal/models"
	"github.com/mossy-p/huddle/internal/router"
	"github.com/mossy-p/huddle/internal/rtc"
	"github.com/mossy-p/huddle/internal/session"
	"github.com/mossy-p/huddle/internal/settings"
	"github.com/mossy-p/huddle/internal/swarm"
	"github.com/mossy-p/huddle/internal/transcribe"
)

const (
	defaultSummaryGrace = time.Second
	defaultLeaveTimeout = 2 * time.Second
)

// SocialClient is the AT Protocol service.
type SocialClient interface {
	CreateAccount(ctx context.Context, in atproto.CreateAccountInput) (atproto.Session, error)
	CreateSession(ctx context.Context, identifier, password string) (atproto.Session, error)
	RefreshSession(ctx context.Context, refreshJWT string) (atproto.Session, error)
	DeleteSession(ctx context.Context, refreshJWT string) error
	GetProfile(ctx context.Context, accessJWT, actor string) (atproto.Profile, error)
}

// Assistant is the hosted speech-to-text and chat-completion API.
type Assistant interface {
	transcribe.Transcriber
	Summarize(ctx context.Context, lines []string) (string, error)
	ExtractTasks(ctx context.Context, lines []string) ([]string, error)
}

type Options struct {
	Logger    *zap.Logger
	Bus       *events.Bus
	Settings  *settings.Store
	Sessions  session.Store
	Social    SocialClient
	Assistant Assistant
	Identity  *swarm.Identity
	Swarms    swarm.Factory
	Screens   ScreenProvider
	// TempDir holds audio handed to the transcription API; empty means the
	// system temp directory.
	TempDir      string
	LeaveTimeout time.Duration
	SummaryGrace time.Duration
	// OnQuit is called once when the UI asks the backend to exit.
	OnQuit func()
}

// App owns the components of one backend process.
type App struct {
	logger    *zap.Logger
	bus       *events.Bus
	settings  *settings.Store
	sessions  session.Store
	social    SocialClient
	assistant Assistant
	identity  *swarm.Identity
	manager   *swarm.Manager
	relay     *rtc.Relay
	gate      *transcribe.Gate
	screens   ScreenProvider

	transcript   *Transcript
	summaries    *summaryTracker
	summaryGrace time.Duration
	now          func() time.Time

	mu       sync.RWMutex
	record   *models.SessionRecord
	user     *models.User
	username string
	screen   *ScreenSource

	quitOnce     sync.Once
	onQuit       func()
	prepareOnce  sync.Once
	shutdownOnce sync.Once
}

func New(opts Options) *App {
	if opts.SummaryGrace <= 0 {
		opts.SummaryGrace = defaultSummaryGrace
	}
	if opts.LeaveTimeout <= 0 {
		opts.LeaveTimeout = defaultLeaveTimeout
	}
	if opts.Screens == nil {
		opts.Screens = DefaultScreens()
	}
	if opts.OnQuit == nil {
		opts.OnQuit = func() {}
	}

	a := &App{
		logger:       opts.Logger,
		bus:          opts.Bus,
		settings:     opts.Settings,
		sessions:     opts.Sessions,
		social:       opts.Social,
		assistant:    opts.Assistant,
		identity:     opts.Identity,
		screens:      opts.Screens,
		transcript:   NewTranscript(),
		summaries:    newSummaryTracker(),
		summaryGrace: opts.SummaryGrace,
		now:          time.Now,
		onQuit:       opts.OnQuit,
	}

	a.manager = swarm.NewManager(opts.Swarms, opts.Bus, opts.Logger, opts.LeaveTimeout)
	a.relay = rtc.NewRelay(a.manager, opts.Identity.ID(), opts.Bus, opts.Logger)
	a.gate = transcribe.NewGate(opts.Assistant, opts.Settings, opts.TempDir, opts.Logger)
	a.manager.SetHandler(router.New(opts.Bus, a.relay, a.transcript, opts.Logger))

	return a
}

// Bus is the event stream the bridge forwards to the UI.
func (a *App) Bus() *events.Bus {
	return a.bus
}

// Manager exposes the swarm session for status queries.
func (a *App) Manager() *swarm.Manager {
	return a.manager
}

// OwnID is this backend's public key on the swarm.
func (a *App) OwnID() string {
	return a.identity.ID()
}

// Quit asks the process to exit. The shutdown itself runs in the caller of
// OnQuit.
func (a *App) Quit() {
	a.quitOnce.Do(func() {
		a.logger.Info("Quit requested")
		go a.onQuit()
	})
}

// PrepareShutdown asks the UI for a final summary and waits up to the
// summary grace period for it. The bridge must still be serving so the UI
// can answer; a summary started after the request is waited for too.
func (a *App) PrepareShutdown(ctx context.Context) {
	a.prepareOnce.Do(func() {
		mark := a.summaries.mark()
		a.bus.Publish(events.GenerateSummary, nil)

		timer := time.NewTimer(a.summaryGrace)
		defer timer.Stop()

		for {
			running, settled, changed := a.summaries.state(mark)
			if settled {
				return
			}
			select {
			case <-changed:
			case <-timer.C:
				if running > 0 {
					a.logger.Warn("Summary still running at shutdown",
						zap.Int("running", running),
						zap.Duration("grace", a.summaryGrace),
					)
				}
				return
			case <-ctx.Done():
				return
			}
		}
	})
}

// Shutdown finishes PrepareShutdown if nobody has, then leaves the room and
// ends the event stream.
func (a *App) Shutdown(ctx context.Context) {
	a.shutdownOnce.Do(func() {
		a.PrepareShutdown(ctx)

		if err := a.manager.LeaveRoom(ctx); err != nil {
			a.logger.Warn("Failed to leave room during shutdown", zap.Error(err))
		}
		a.bus.Close()
		a.logger.Info("Shutdown complete")
	})
}
