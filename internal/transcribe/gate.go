// Package transcribe decides whether captured audio is worth sending to the
// hosted speech-to-text API and does the file handling around the call.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mossy-p/huddle/internal/apperr"
	"github.com/mossy-p/huddle/internal/models"
)

// MinTextLength is the shortest transcript, in runes, that is kept.
const MinTextLength = 2

// Transcriber is the hosted speech-to-text API.
type Transcriber interface {
	// Ready reports a configuration error when no API key is available.
	Ready() error
	Transcribe(ctx context.Context, path, model string) (string, error)
}

// SettingsSource supplies the current threshold and model.
type SettingsSource interface {
	Get() models.Settings
}

// Audio is a chunk of 16-bit little-endian PCM.
type Audio struct {
	Samples    []byte
	SampleRate int
	Channels   int
}

// Result is the outcome of one gated transcription.
type Result struct {
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	Level   float64 `json:"level"`
	Skipped bool    `json:"skipped,omitempty"`
}

type Gate struct {
	api      Transcriber
	settings SettingsSource
	tempDir  string
	logger   *zap.Logger
}

// NewGate creates a gate writing temporary audio under tempDir, or the
// system temp directory when tempDir is empty.
func NewGate(api Transcriber, settings SettingsSource, tempDir string, logger *zap.Logger) *Gate {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Gate{
		api:      api,
		settings: settings,
		tempDir:  tempDir,
		logger:   logger,
	}
}

// MaybeTranscribe returns the transcript of audio spoken by speaker. Audio
// below the transcription threshold yields an empty result without calling
// the API or touching the filesystem.
func (g *Gate) MaybeTranscribe(ctx context.Context, audio Audio, speaker string) (Result, error) {
	if err := audio.validate(); err != nil {
		return Result{}, apperr.Validation("transcribe audio", err)
	}

	cfg := g.settings.Get()
	level := Level(audio.Samples)
	res := Result{Speaker: speaker, Level: level}

	if len(audio.Samples) < 2 || level < cfg.TranscriptionThreshold {
		res.Skipped = true
		return res, nil
	}

	if err := g.api.Ready(); err != nil {
		return Result{}, err
	}

	model := cfg.TranscriptionModel
	if !models.IsTranscriptionModel(model) {
		model = models.DefaultTranscriptionModel
	}

	text, err := g.transcribeFile(ctx, audio, model)
	if err != nil {
		return Result{}, err
	}

	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < MinTextLength {
		g.logger.Debug("Discarding short transcript", zap.String("speaker", speaker), zap.String("text", text))
		return res, nil
	}

	res.Text = text
	return res, nil
}

// transcribeFile writes audio to a unique WAV file, hands it to the API and
// removes the file whatever the outcome.
func (g *Gate) transcribeFile(ctx context.Context, audio Audio, model string) (string, error) {
	path := filepath.Join(g.tempDir, fmt.Sprintf("huddle-%s.wav", uuid.New().String()))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", apperr.New(apperr.KindInternal, "transcribe audio", fmt.Errorf("create temp file: %w", err))
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			g.logger.Warn("Failed to remove temp audio", zap.String("path", path), zap.Error(err))
		}
	}()

	werr := writeWAV(f, audio)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return "", apperr.New(apperr.KindInternal, "transcribe audio", fmt.Errorf("write temp file: %w", werr))
	}

	text, err := g.api.Transcribe(ctx, path, model)
	if err != nil {
		return "", err
	}
	return text, nil
}

func (a Audio) validate() error {
	if a.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", a.SampleRate)
	}
	if a.Channels <= 0 || a.Channels > 8 {
		return fmt.Errorf("invalid channel count %d", a.Channels)
	}
	return nil
}
