package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the backend (bridge) process configuration.
type Config struct {
	Port           string        `envconfig:"PORT" default:"7420"`
	BindAddr       string        `envconfig:"BIND_ADDR" default:"127.0.0.1"`
	Environment    string        `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel       string        `envconfig:"LOG_LEVEL"`
	AllowedOrigins []string      `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`
	JWTSecret      string        `envconfig:"JWT_SECRET"`
	DataDir        string        `envconfig:"DATA_DIR"`
	RelayURL       string        `envconfig:"SWARM_RELAY_URL" default:"ws://localhost:8080/ws/swarm"`
	LeaveTimeout   time.Duration `envconfig:"LEAVE_TIMEOUT" default:"2s"`
	SummaryGrace   time.Duration `envconfig:"SUMMARY_GRACE" default:"1s"`
	SessionBackend string        `envconfig:"SESSION_BACKEND" default:"file"`

	Social SocialConfig
	OpenAI OpenAIConfig
	Redis  RedisConfig
}

// SocialConfig points at the AT Protocol service used for accounts.
type SocialConfig struct {
	ServiceURL string `envconfig:"ATP_SERVICE_URL" default:"https://bsky.social"`
	InviteCode string `envconfig:"ATP_INVITE_CODE" default:"bsky-social-huddle"`
}

type OpenAIConfig struct {
	APIKey    string `envconfig:"OPENAI_API_KEY"`
	BaseURL   string `envconfig:"OPENAI_BASE_URL"`
	ChatModel string `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`
}

type RedisConfig struct {
	Enabled  bool   `envconfig:"REDIS_ENABLED" default:"false"`
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     string `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// RelayConfig holds the swarm relay server configuration.
type RelayConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	Environment    string        `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel       string        `envconfig:"LOG_LEVEL"`
	AllowedOrigins []string      `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`
	PresenceTTL    time.Duration `envconfig:"PRESENCE_TTL" default:"24h"`
	Redis          RedisConfig
}

// Load reads the backend configuration from the environment, after an optional .env file.
func Load() (*Config, error) {
	loadDotEnv()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.DataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
		cfg.DataDir = filepath.Join(base, "huddle")
	}
	if cfg.LeaveTimeout <= 0 {
		cfg.LeaveTimeout = 2 * time.Second
	}
	if cfg.SummaryGrace < 0 {
		cfg.SummaryGrace = time.Second
	}

	return &cfg, nil
}

// LoadRelay reads the relay server configuration.
func LoadRelay() (*RelayConfig, error) {
	loadDotEnv()

	var cfg RelayConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load relay config: %w", err)
	}
	return &cfg, nil
}

// ListenAddr is the bridge listen address.
func (c *Config) ListenAddr() string {
	return c.BindAddr + ":" + c.Port
}

// Addr returns host:port for the Redis server.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

func loadDotEnv() {
	// A missing .env is the normal case.
	_ = godotenv.Load()
}
