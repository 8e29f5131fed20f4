// Package settings persists the user preferences document.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mossy-p/huddle/internal/apperr"
	"github.com/mossy-p/huddle/internal/models"
)

const fileName = "settings.json"

// Store keeps the settings document in memory and flushes it to disk on
// every change.
type Store struct {
	path     string
	mu       sync.RWMutex
	doc      models.Settings
	validate *validator.Validate
	logger   *zap.Logger
}

// Open loads dir/settings.json. A missing file yields the defaults; an
// unreadable one is logged and replaced by the defaults on the next write.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create settings dir: %w", err)
	}

	s := &Store{
		path:     filepath.Join(dir, fileName),
		doc:      models.DefaultSettings(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}

	doc, err := s.read()
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		logger.Warn("Ignoring unreadable settings file", zap.String("path", s.path), zap.Error(err))
	default:
		s.doc = doc
	}

	return s, nil
}

// Path is the settings file location.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Get() models.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// Update applies fn to a copy of the document, validates it and writes it
// out. The in-memory document only changes if the write succeeds.
func (s *Store) Update(fn func(*models.Settings)) (models.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc
	fn(&next)
	s.normalize(&next)

	if err := s.validate.Struct(next); err != nil {
		return s.doc, apperr.Validation("update settings", err)
	}
	if err := s.write(next); err != nil {
		return s.doc, fmt.Errorf("update settings: %w", err)
	}

	s.doc = next
	return next, nil
}

// Reload re-reads the file, keeping the current document if it is invalid.
// The read happens under the write lock so a concurrent Update cannot be
// replaced by the file contents it is about to overwrite.
func (s *Store) Reload() (models.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return s.doc, err
	}
	if err := s.validate.Struct(doc); err != nil {
		return s.doc, apperr.Validation("reload settings", err)
	}

	s.doc = doc
	return doc, nil
}

// MaskedAPIKey is the only form of the API key handed to the UI.
func (s *Store) MaskedAPIKey() string {
	return MaskKey(s.Get().OpenAIAPIKey)
}

// MaskKey keeps the first and last four characters of keys longer than
// eight characters and hides shorter keys completely.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func (s *Store) read() (models.Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return models.Settings{}, err
	}

	doc := models.DefaultSettings()
	if err := json.Unmarshal(data, &doc); err != nil {
		return models.Settings{}, fmt.Errorf("parse %s: %w", s.path, err)
	}
	s.normalize(&doc)
	return doc, nil
}

func (s *Store) normalize(doc *models.Settings) {
	doc.OpenAIAPIKey = strings.TrimSpace(doc.OpenAIAPIKey)
	doc.TranscriptionModel = strings.TrimSpace(doc.TranscriptionModel)
	if !models.IsTranscriptionModel(doc.TranscriptionModel) {
		if doc.TranscriptionModel != "" {
			s.logger.Warn("Unknown transcription model, using default",
				zap.String("model", doc.TranscriptionModel),
				zap.String("default", models.DefaultTranscriptionModel),
			)
		}
		doc.TranscriptionModel = models.DefaultTranscriptionModel
	}
}

func (s *Store) write(doc models.Settings) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
