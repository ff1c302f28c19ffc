package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "POLL_INTERVAL", "10s")
	setEnv(t, "NEEDS_CONFIRMATION", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, DefaultMaxAttempts, cfg.RetryMaxAttempts)
	assert.Equal(t, DefaultBaseDelay, cfg.RetryBaseDelay)
	assert.Equal(t, DefaultMaxDelay, cfg.RetryMaxDelay)
}

func TestLoad_ConfirmationSecretRequired(t *testing.T) {
	setEnv(t, "NEEDS_CONFIRMATION", "true")
	setEnv(t, "CONFIRMATION_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "CONFIRMATION_SECRET")
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		PollInterval:     30 * time.Second,
		RetryMaxAttempts: 6,
		RetryBaseDelay:   time.Second,
		RetryMaxDelay:    30 * time.Second,
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "non-positive poll interval",
			mutate:  func(c *Config) { c.PollInterval = 0 },
			wantErr: "POLL_INTERVAL",
		},
		{
			name:    "non-positive max attempts",
			mutate:  func(c *Config) { c.RetryMaxAttempts = 0 },
			wantErr: "RETRY_MAX_ATTEMPTS",
		},
		{
			name:    "max delay below base delay",
			mutate:  func(c *Config) { c.RetryMaxDelay = c.RetryBaseDelay / 2 },
			wantErr: "RETRY_BASE_DELAY",
		},
		{
			name: "needs confirmation without secret",
			mutate: func(c *Config) {
				c.NeedsConfirmation = true
				c.ConfirmationSecret = ""
			},
			wantErr: "CONFIRMATION_SECRET",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestGetEnvDuration(t *testing.T) {
	setEnv(t, "TEST_DUR", "90s")
	setEnv(t, "TEST_DUR_INVALID", "soon")

	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DUR", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("TEST_DUR_INVALID", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("NONEXISTENT_VAR", time.Minute))
}
