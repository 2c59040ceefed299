package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port                  int    `env:"PORT" envDefault:"8080"`
	RedisURL              string `env:"REDIS_URL,required"`
	SessionsDir           string `env:"SESSIONS_DIR" envDefault:"sessions"`
	StaticDir             string `env:"STATIC_DIR" envDefault:"static"`
	PendingTimeoutSeconds int    `env:"PENDING_TIMEOUT_SECONDS" envDefault:"120"`
	SessionTTLSeconds     int    `env:"SESSION_TTL_SECONDS" envDefault:"300"`
	PairRateLimitPerMin   int    `env:"PAIR_RATE_LIMIT_PER_MIN" envDefault:"10"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`
}

// PendingTimeout bounds how long a session may sit in pending before the
// watchdog removes it.
func (c *Config) PendingTimeout() time.Duration {
	return time.Duration(c.PendingTimeoutSeconds) * time.Second
}

// SessionTTL bounds how long a connected session and its credentials are kept.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate() error {
	if c.PendingTimeoutSeconds <= 0 {
		return fmt.Errorf("PENDING_TIMEOUT_SECONDS must be positive")
	}
	if c.SessionTTLSeconds <= 0 {
		return fmt.Errorf("SESSION_TTL_SECONDS must be positive")
	}
	if c.SessionsDir == "" {
		return fmt.Errorf("SESSIONS_DIR must not be empty")
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
