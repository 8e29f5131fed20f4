// Package bridge exposes the backend to the UI: one POST endpoint per
// capability plus a WebSocket carrying event notifications.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mossy-p/huddle/internal/app"
	"github.com/mossy-p/huddle/internal/events"
	"github.com/mossy-p/huddle/internal/middleware"
)

// TokenFile is where the bridge token is written for the UI host.
const TokenFile = "bridge.token"

const shutdownTimeout = 5 * time.Second

type Config struct {
	Secret         string
	AllowedOrigins []string
	Environment    string
}

type Server struct {
	app    *app.App
	cfg    Config
	engine *gin.Engine
	logger *zap.Logger
}

func New(a *app.App, cfg Config, logger *zap.Logger) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{app: a, cfg: cfg, engine: gin.New(), logger: logger}

	s.engine.Use(middleware.RequestLogger(logger))
	s.engine.Use(gin.CustomRecovery(s.recoverPanic))
	s.engine.Use(middleware.OriginFilter(cfg.AllowedOrigins))
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := middleware.JWTAuth(s.cfg.Secret)

	api := s.engine.Group("/api", auth)
	{
		api.POST("/sign-up", s.signUp)
		api.POST("/sign-in", s.signIn)
		api.POST("/sign-out", s.signOut)
		api.POST("/get-current-user", s.getCurrentUser)
		api.POST("/set-username", s.setUsername)

		api.POST("/join-room", s.joinRoom)
		api.POST("/leave-room", s.leaveRoom)
		api.POST("/create-room", s.createRoom)
		api.POST("/get-own-id", s.getOwnID)
		api.POST("/quit", s.quit)
		api.POST("/send-message", s.sendMessage)
		api.POST("/send-signal", s.sendSignal)

		api.POST("/transcribe-audio", s.transcribeAudio)
		api.POST("/update-audio-threshold", s.updateAudioThreshold)
		api.POST("/update-transcription-threshold", s.updateTranscriptionThreshold)
		api.POST("/update-transcription-model", s.updateTranscriptionModel)
		api.POST("/update-openai-api-key", s.updateAPIKey)
		api.POST("/get-openai-api-key", s.getAPIKey)
		api.POST("/get-settings", s.getSettings)

		api.POST("/generate-call-summary", s.generateCallSummary)
		api.POST("/generate-task-from-conversation", s.generateTasks)

		api.POST("/get-screen-sources", s.getScreenSources)
		api.POST("/start-screen-share", s.startScreenShare)
	}

	s.engine.GET("/ws/events", auth, s.streamEvents)
}

// recoverPanic is the fallback for anything a handler did not turn into a
// result: the UI is told and the request still gets an answer.
func (s *Server) recoverPanic(c *gin.Context, recovered any) {
	s.logger.Error("Recovered panic in bridge handler",
		zap.String("path", c.FullPath()),
		zap.Any("panic", recovered),
	)
	s.app.Bus().Publish(events.NetworkError, gin.H{"message": "internal error"})
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"error":   "internal error",
		"kind":    "internal",
	})
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bridge listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled. Before the listener closes the
// UI is asked for a final summary and given the grace period to send it.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Bridge listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("bridge server: %w", err)
	case <-ctx.Done():
	}

	base := context.WithoutCancel(ctx)
	s.app.PrepareShutdown(base)

	shutdownCtx, cancel := context.WithTimeout(base, shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("Bridge requests still running at shutdown, closing", zap.Duration("timeout", shutdownTimeout))
			srv.Close()
			return nil
		}
		return fmt.Errorf("bridge shutdown: %w", err)
	}
	return nil
}

// WriteToken stores the bridge token in dir with owner-only permissions.
func WriteToken(dir, token string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dir, TokenFile)
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write bridge token: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0o600); err != nil {
		return "", fmt.Errorf("write bridge token: %w", err)
	}
	return path, nil
}
