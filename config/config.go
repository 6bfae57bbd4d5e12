// Package config provides configuration types and loading for agentcoop.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the root configuration struct, populated from defaults and
// AGENTCOOP_* environment variables.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Auth    AuthConfig    `json:"auth"`
	Storage StorageConfig `json:"storage"`
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig groups listener and traffic settings.
type ServerConfig struct {
	Addr              string        `json:"addr" envconfig:"ADDR"`
	MaxMessageHistory int           `json:"maxMessageHistory" envconfig:"MAX_MESSAGE_HISTORY"`
	EnableREST        bool          `json:"enableRest" envconfig:"ENABLE_REST"`
	EnableMetrics     bool          `json:"enableMetrics" envconfig:"ENABLE_METRICS"`
	RateLimitEnabled  bool          `json:"rateLimitEnabled" envconfig:"RATE_LIMIT_ENABLED"`
	RateLimitWindow   time.Duration `json:"rateLimitWindow" envconfig:"RATE_LIMIT_WINDOW"`
	RateLimitMax      int           `json:"rateLimitMax" envconfig:"RATE_LIMIT_MAX"`
}

// AuthConfig selects and parameterizes the authentication strategy.
type AuthConfig struct {
	// Strategy is one of none, apikey or token.
	Strategy string `json:"strategy" envconfig:"STRATEGY"`

	// APIKeys holds key:agent pairs for the apikey strategy, e.g.
	// "secret1:agent-a,secret2:agent-b".
	APIKeys map[string]string `json:"apiKeys" envconfig:"API_KEYS"`

	// Secret signs tokens under the token strategy.
	Secret string `json:"secret" envconfig:"SECRET"`

	TokenTTL time.Duration `json:"tokenTtl" envconfig:"TOKEN_TTL"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Driver is one of memory or sqlite.
	Driver string `json:"driver" envconfig:"DRIVER"`

	// Path is the SQLite database file (sqlite driver).
	Path string `json:"path" envconfig:"PATH"`

	// MaxMessages bounds the persisted message log.
	MaxMessages int `json:"maxMessages" envconfig:"MAX_MESSAGES"`
}

// LoggingConfig tunes log output.
type LoggingConfig struct {
	Level  string `json:"level" envconfig:"LEVEL"`
	Format string `json:"format" envconfig:"FORMAT"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8787",
			MaxMessageHistory: 1000,
			EnableREST:        true,
			EnableMetrics:     true,
			RateLimitEnabled:  false,
			RateLimitWindow:   time.Minute,
			RateLimitMax:      100,
		},
		Auth: AuthConfig{
			Strategy: "none",
			TokenTTL: time.Hour,
		},
		Storage: StorageConfig{
			Driver:      "memory",
			Path:        "agentcoop.db",
			MaxMessages: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults overlaid with environment
// variables.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process("AGENTCOOP_SERVER", &cfg.Server); err != nil {
		return nil, fmt.Errorf("config: server: %w", err)
	}
	if err := envconfig.Process("AGENTCOOP_AUTH", &cfg.Auth); err != nil {
		return nil, fmt.Errorf("config: auth: %w", err)
	}
	if err := envconfig.Process("AGENTCOOP_STORAGE", &cfg.Storage); err != nil {
		return nil, fmt.Errorf("config: storage: %w", err)
	}
	if err := envconfig.Process("AGENTCOOP_LOG", &cfg.Logging); err != nil {
		return nil, fmt.Errorf("config: logging: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	switch c.Auth.Strategy {
	case "none", "apikey", "token":
	default:
		return fmt.Errorf("config: unknown auth strategy %q", c.Auth.Strategy)
	}
	if c.Auth.Strategy == "token" && c.Auth.Secret == "" {
		return fmt.Errorf("config: token strategy requires a secret")
	}
	switch c.Storage.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	if c.Server.MaxMessageHistory <= 0 {
		return fmt.Errorf("config: max message history must be positive")
	}
	return nil
}
