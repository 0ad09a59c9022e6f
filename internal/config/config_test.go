package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "trade-reflector/internal/errors"
)

func TestLoadCreatesTemplates(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, filepath.Join(dir, "trade_log.db"), cfg.Store.Path)
	assert.Equal(t, "upbit", cfg.Feed.Source)
	assert.Equal(t, "KRW", cfg.Feed.QuoteCurrency)
	assert.Equal(t, 15*time.Second, cfg.Feed.Timeout)
	assert.True(t, cfg.Feed.Cache)
	assert.Equal(t, 24, cfg.Reflection.MinAgeHours)
	assert.Equal(t, 24, cfg.Reflection.WindowHours)
	assert.Equal(t, 12, cfg.Reflection.MinSamplesWarning)
	assert.Equal(t, 3, cfg.Reflection.BreakerFailures)
	assert.False(t, cfg.WindowOutlivesAge())

	assert.FileExists(t, filepath.Join(dir, "config.toml"))
	info, err := os.Stat(filepath.Join(dir, "credentials.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(`
[store]
driver = "postgres"
dsn = "postgres://reflector@localhost/trades"

[feed]
source = "yahoo"
timeout = "5s"

[reflection]
min_age_hours = 48
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "credentials.toml"), []byte(`
[openai]
api_key = "from-file"
`), 0600))

	t.Setenv("OPENAI_API_KEY", "from-env")
	t.Setenv("REFLECTOR_WINDOW_HOURS", "72")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://reflector@localhost/trades", cfg.Store.DSN)
	assert.Equal(t, "yahoo", cfg.Feed.Source)
	assert.Equal(t, 5*time.Second, cfg.Feed.Timeout)
	assert.Equal(t, 48, cfg.Reflection.MinAgeHours)
	assert.Equal(t, 72, cfg.Reflection.WindowHours)
	assert.True(t, cfg.WindowOutlivesAge())
	assert.Equal(t, "from-env", cfg.Credentials.OpenAI.APIKey)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(`
[feed]
source = "bloomberg"
`), 0644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Store:      StoreConfig{Driver: "sqlite", Path: "/tmp/x.db"},
			Feed:       FeedConfig{Source: "upbit"},
			Reflection: ReflectionConfig{MinAgeHours: 24, WindowHours: 24},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }, false},
		{"sqlite without path", func(c *Config) { c.Store.Path = "" }, false},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }, false},
		{"unknown source", func(c *Config) { c.Feed.Source = "binance" }, false},
		{"zero min age", func(c *Config) { c.Reflection.MinAgeHours = 0 }, false},
		{"negative window", func(c *Config) { c.Reflection.WindowHours = -1 }, false},
		{"window longer than age", func(c *Config) { c.Reflection.WindowHours = 48 }, true},
		{"negative breaker", func(c *Config) { c.Reflection.BreakerFailures = -1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
		})
	}
}

func TestValidateNormalisesNames(t *testing.T) {
	c := &Config{
		Store:      StoreConfig{Driver: "PostgreSQL", DSN: "postgres://localhost/reflector"},
		Feed:       FeedConfig{Source: " Yahoo "},
		Reflection: ReflectionConfig{MinAgeHours: 24, WindowHours: 24},
	}
	require.NoError(t, c.Validate())
	assert.Equal(t, "postgres", c.Store.Driver)
	assert.Equal(t, "yahoo", c.Feed.Source)
}
