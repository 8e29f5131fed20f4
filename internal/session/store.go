// Package session caches the social-network session so the backend can
// resume a login silently at startup.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mossy-p/huddle/internal/models"
	"github.com/mossy-p/huddle/internal/redis"
)

// ErrNoSession means no usable session record is stored.
var ErrNoSession = errors.New("no stored session")

// Store persists a single session record.
type Store interface {
	Load(ctx context.Context) (models.SessionRecord, error)
	Save(ctx context.Context, rec models.SessionRecord) error
	Delete(ctx context.Context) error
}

// FileStore keeps the record in a 0600 JSON file.
type FileStore struct {
	path string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileStore{path: filepath.Join(dir, "session.json")}, nil
}

func (s *FileStore) Load(_ context.Context) (models.SessionRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.SessionRecord{}, ErrNoSession
	}
	if err != nil {
		return models.SessionRecord{}, fmt.Errorf("read session: %w", err)
	}
	return decode(data)
}

func (s *FileStore) Save(_ context.Context, rec models.SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func (s *FileStore) Delete(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// RedisStore keeps the record under a per-profile key.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, profile string) *RedisStore {
	if profile == "" {
		profile = "default"
	}
	return &RedisStore{client: client, key: "session:" + profile}
}

func (s *RedisStore) Load(ctx context.Context) (models.SessionRecord, error) {
	data, err := s.client.Get(ctx, s.key)
	if errors.Is(err, redis.ErrNotFound) {
		return models.SessionRecord{}, ErrNoSession
	}
	if err != nil {
		return models.SessionRecord{}, fmt.Errorf("read session: %w", err)
	}
	return decode(data)
}

func (s *RedisStore) Save(ctx context.Context, rec models.SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key, data, 0)
}

func (s *RedisStore) Delete(ctx context.Context) error {
	return s.client.Del(ctx, s.key)
}

func decode(data []byte) (models.SessionRecord, error) {
	var rec models.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return models.SessionRecord{}, fmt.Errorf("parse session: %w", err)
	}
	if rec.RefreshJWT == "" {
		return models.SessionRecord{}, ErrNoSession
	}
	return rec, nil
}

// TokenProfile is what can be read from a refresh token without the server.
type TokenProfile struct {
	DID       string
	ExpiresAt time.Time
}

// Expired reports whether the token is past its expiry at now. Tokens
// without an expiry never expire locally.
func (p TokenProfile) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// ProfileFromToken decodes the subject and expiry of a refresh token. The
// signature is not checked; only the issuing server can verify it.
func ProfileFromToken(token string) (TokenProfile, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return TokenProfile{}, fmt.Errorf("decode refresh token: %w", err)
	}

	profile := TokenProfile{DID: claims.Subject}
	if claims.ExpiresAt != nil {
		profile.ExpiresAt = claims.ExpiresAt.Time
	}
	return profile, nil
}
