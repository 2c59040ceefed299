package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("PendingTimeout converts seconds to duration", func(t *testing.T) {
		cfg := &Config{PendingTimeoutSeconds: 120}
		assert.Equal(t, 120*time.Second, cfg.PendingTimeout())
	})

	t.Run("SessionTTL converts seconds to duration", func(t *testing.T) {
		cfg := &Config{SessionTTLSeconds: 300}
		assert.Equal(t, 300*time.Second, cfg.SessionTTL())
	})
}

func TestValidate(t *testing.T) {
	valid := Config{
		SessionsDir:           "sessions",
		PendingTimeoutSeconds: 120,
		SessionTTLSeconds:     300,
	}

	t.Run("accepts sane config", func(t *testing.T) {
		cfg := valid
		assert.NoError(t, cfg.Validate())
	})

	t.Run("rejects non-positive pending timeout", func(t *testing.T) {
		cfg := valid
		cfg.PendingTimeoutSeconds = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects non-positive session ttl", func(t *testing.T) {
		cfg := valid
		cfg.SessionTTLSeconds = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects empty sessions dir", func(t *testing.T) {
		cfg := valid
		cfg.SessionsDir = ""
		assert.Error(t, cfg.Validate())
	})
}

func TestLoad(t *testing.T) {
	keys := []string{
		"PORT", "REDIS_URL", "SESSIONS_DIR", "STATIC_DIR",
		"PENDING_TIMEOUT_SECONDS", "SESSION_TTL_SECONDS",
		"PAIR_RATE_LIMIT_PER_MIN", "LOG_LEVEL",
	}

	originalEnv := map[string]string{}
	for _, k := range keys {
		originalEnv[k] = os.Getenv(k)
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads config with defaults", func(t *testing.T) {
		for _, k := range keys {
			os.Unsetenv(k)
		}
		os.Setenv("REDIS_URL", "redis://localhost:6379")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "sessions", cfg.SessionsDir)
		assert.Equal(t, "static", cfg.StaticDir)
		assert.Equal(t, 120, cfg.PendingTimeoutSeconds)
		assert.Equal(t, 300, cfg.SessionTTLSeconds)
		assert.Equal(t, 10, cfg.PairRateLimitPerMin)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("fails without redis url", func(t *testing.T) {
		for _, k := range keys {
			os.Unsetenv(k)
		}

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("honors overrides", func(t *testing.T) {
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("PORT", "9090")
		os.Setenv("PENDING_TIMEOUT_SECONDS", "30")
		os.Setenv("SESSION_TTL_SECONDS", "60")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Port)
		assert.Equal(t, 30*time.Second, cfg.PendingTimeout())
		assert.Equal(t, 60*time.Second, cfg.SessionTTL())
	})
}
