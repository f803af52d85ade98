package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.ClassifyCeiling)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention())
	assert.Equal(t, ":8080", cfg.ListenAddr())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown driver", func(c *Config) { c.StoreDriver = "postgres" }, "unknown store driver"},
		{"unknown fetch mode", func(c *Config) { c.FetchMode = "fast" }, "unknown fetch mode"},
		{"zero retention", func(c *Config) { c.RetentionDays = 0 }, "retention must be positive"},
		{"zero ceiling", func(c *Config) { c.ClassifyCeiling = 0 }, "ceiling must be positive"},
		{"mongo driver", func(c *Config) { c.StoreDriver = "mongo" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", time.Hour},
		{"90s", 90 * time.Second},
		{"2h", 2 * time.Hour},
		{"15", 15 * time.Minute},
		{"soon", time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("NEWSFEED_TEST_DURATION", tt.value)
			assert.Equal(t, tt.want, GetEnvDuration("NEWSFEED_TEST_DURATION", time.Hour))
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("NEWSFEED_TEST_INT", "12")
	t.Setenv("NEWSFEED_TEST_BAD_INT", "twelve")
	t.Setenv("NEWSFEED_TEST_BOOL", "true")
	t.Setenv("NEWSFEED_TEST_LEVEL", "warn")

	assert.Equal(t, 12, GetEnvInt("NEWSFEED_TEST_INT", 1))
	assert.Equal(t, 1, GetEnvInt("NEWSFEED_TEST_BAD_INT", 1))
	assert.True(t, GetEnvBool("NEWSFEED_TEST_BOOL", false))
	assert.Equal(t, "fallback", GetEnvString("NEWSFEED_TEST_UNSET", "fallback"))
	assert.Equal(t, zerolog.WarnLevel, GetEnvLogLevel("NEWSFEED_TEST_LEVEL", zerolog.InfoLevel))
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("NEWSFEED_DOTENV_VALUE=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("NEWSFEED_DOTENV_VALUE") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), envFile))
	assert.Equal(t, "from-file", os.Getenv("NEWSFEED_DOTENV_VALUE"))
}
