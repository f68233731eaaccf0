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

	t.Run("LLMTimeout converts seconds to duration", func(t *testing.T) {
		cfg := &Config{LLMTimeoutSeconds: 25}
		assert.Equal(t, 25*time.Second, cfg.LLMTimeout())
	})

	t.Run("TurnDeadline converts seconds to duration", func(t *testing.T) {
		cfg := &Config{TurnDeadlineSeconds: 30}
		assert.Equal(t, 30*time.Second, cfg.TurnDeadline())
	})

	t.Run("EscalationTimeout converts minutes to duration", func(t *testing.T) {
		cfg := &Config{EscalationTimeoutMinutes: 15}
		assert.Equal(t, 15*time.Minute, cfg.EscalationTimeout())
	})
}

func withEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		original, had := os.LookupEnv(k)
		if v == "" {
			os.Unsetenv(k)
		} else {
			os.Setenv(k, v)
		}
		t.Cleanup(func() {
			if had {
				os.Setenv(k, original)
			} else {
				os.Unsetenv(k)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("loads config with defaults", func(t *testing.T) {
		withEnv(t, map[string]string{
			"DATABASE_URL": "postgres://localhost/test",
			"REDIS_URL":    "redis://localhost:6379",
			"PORT":         "",
			"LOG_LEVEL":    "",
		})

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
		assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, 0.70, cfg.HighConfGeneral)
		assert.Equal(t, 0.75, cfg.HighConfCompliance)
		assert.Equal(t, 6, cfg.MaxOffers)
		assert.Equal(t, []string{"soc2", "hipaa", "gdpr", "iso27001"}, cfg.ComplianceTerms)
	})

	t.Run("loads custom values", func(t *testing.T) {
		withEnv(t, map[string]string{
			"DATABASE_URL":       "postgres://localhost/test",
			"REDIS_URL":          "redis://localhost:6379",
			"PORT":               "3000",
			"LOG_LEVEL":          "debug",
			"HIGH_CONF_GENERAL":  "0.80",
			"SLOT_MAX_OFFERS":    "4",
		})

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, 0.80, cfg.HighConfGeneral)
		assert.Equal(t, 4, cfg.MaxOffers)
	})

	t.Run("fails without required DATABASE_URL", func(t *testing.T) {
		withEnv(t, map[string]string{
			"DATABASE_URL": "",
			"REDIS_URL":    "redis://localhost:6379",
		})

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("fails without required REDIS_URL", func(t *testing.T) {
		withEnv(t, map[string]string{
			"DATABASE_URL": "postgres://localhost/test",
			"REDIS_URL":    "",
		})

		_, err := Load()
		assert.Error(t, err)
	})
}
