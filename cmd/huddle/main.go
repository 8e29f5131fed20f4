package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mossy-p/huddle/config"
	"github.com/mossy-p/huddle/internal/ai"
	"github.com/mossy-p/huddle/internal/app"
	"github.com/mossy-p/huddle/internal/atproto"
	"github.com/mossy-p/huddle/internal/bridge"
	"github.com/mossy-p/huddle/internal/events"
	"github.com/mossy-p/huddle/internal/logging"
	"github.com/mossy-p/huddle/internal/middleware"
	"github.com/mossy-p/huddle/internal/models"
	"github.com/mossy-p/huddle/internal/redis"
	"github.com/mossy-p/huddle/internal/session"
	"github.com/mossy-p/huddle/internal/settings"
	"github.com/mossy-p/huddle/internal/swarm"
)

type flags struct {
	port     string
	dataDir  string
	relayURL string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:          "huddle",
		Short:        "Peer-to-peer meeting backend for the huddle desktop app",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if f.port != "" {
				cfg.Port = f.port
			}
			if f.dataDir != "" {
				cfg.DataDir = f.dataDir
			}
			if f.relayURL != "" {
				cfg.RelayURL = f.relayURL
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&f.port, "port", "", "bridge port (overrides PORT)")
	cmd.Flags().StringVar(&f.dataDir, "data-dir", "", "settings and session directory (overrides DATA_DIR)")
	cmd.Flags().StringVar(&f.relayURL, "relay-url", "", "swarm relay WebSocket URL (overrides SWARM_RELAY_URL)")
	return cmd
}

func run(parent context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, quit := context.WithCancel(ctx)
	defer quit()

	bus := events.NewBus(0, logger)

	store, err := settings.Open(cfg.DataDir, logger)
	if err != nil {
		return err
	}
	if err := store.Watch(ctx, func(doc models.Settings) {
		logger.Info("Settings reloaded from disk", zap.String("transcriptionModel", doc.TranscriptionModel))
	}); err != nil {
		logger.Warn("Settings file watching disabled", zap.Error(err))
	}

	sessions, closeSessions, err := openSessions(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSessions()

	social, err := atproto.NewClient(cfg.Social.ServiceURL, cfg.Social.InviteCode, logger)
	if err != nil {
		return err
	}
	assistant := ai.NewClient(ai.Config{
		APIKey:    cfg.OpenAI.APIKey,
		BaseURL:   cfg.OpenAI.BaseURL,
		ChatModel: cfg.OpenAI.ChatModel,
	}, store, logger)

	identity, err := swarm.NewIdentity()
	if err != nil {
		return err
	}

	a := app.New(app.Options{
		Logger:       logger,
		Bus:          bus,
		Settings:     store,
		Sessions:     sessions,
		Social:       social,
		Assistant:    assistant,
		Identity:     identity,
		Swarms:       swarm.NewWSFactory(cfg.RelayURL, identity, logger),
		LeaveTimeout: cfg.LeaveTimeout,
		SummaryGrace: cfg.SummaryGrace,
		OnQuit:       quit,
	})

	if err := a.Resume(ctx); err != nil {
		logger.Warn("Failed to resume session", zap.Error(err))
	}

	secret := cfg.JWTSecret
	if secret == "" {
		if secret, err = middleware.NewSecret(); err != nil {
			return err
		}
	}
	token, err := middleware.IssueToken(secret, identity.ID(), 0)
	if err != nil {
		return err
	}
	tokenPath, err := bridge.WriteToken(cfg.DataDir, token)
	if err != nil {
		return err
	}

	logger.Info("Backend ready",
		zap.String("peer", identity.ID()),
		zap.String("relay", cfg.RelayURL),
		zap.String("token", tokenPath),
	)

	srv := bridge.New(a, bridge.Config{
		Secret:         secret,
		AllowedOrigins: cfg.AllowedOrigins,
		Environment:    cfg.Environment,
	}, logger)
	// Run asks the UI for its final summary before it stops serving; what is
	// left here is leaving the room and closing the event stream.
	runErr := srv.Run(ctx, cfg.ListenAddr())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.SummaryGrace+cfg.LeaveTimeout+time.Second)
	defer cancel()
	a.Shutdown(shutdownCtx)

	return runErr
}

// openSessions picks the session backend. The Redis backend keys the
// record by data directory so several profiles can share one server.
func openSessions(ctx context.Context, cfg *config.Config) (session.Store, func(), error) {
	if cfg.SessionBackend != "redis" {
		store, err := session.NewFileStore(cfg.DataDir)
		return store, func() {}, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := redis.Connect(connectCtx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	return session.NewRedisStore(client, filepath.Base(cfg.DataDir)), func() { client.Close() }, nil
}
