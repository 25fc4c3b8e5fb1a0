package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("FileValues", func(t *testing.T) {
		viper.Reset()
		path := writeConfig(t, `
server:
  port: 9090
detector:
  debounce: 250ms
  theme:
    blocking_class: red
terms:
  source: file
  path: /srv/terms.yaml
  watch: false
cache:
  enabled: true
  redis_url: redis://cache:6379/2
logging:
  level: debug
  format: console
`)

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, 250*time.Millisecond, cfg.Detector.Debounce)
		assert.Equal(t, "red", cfg.Detector.Theme.BlockingClass)
		assert.Equal(t, "/srv/terms.yaml", cfg.Terms.Path)
		assert.False(t, cfg.Terms.Watch)
		assert.True(t, cfg.Cache.Enabled)
		assert.Equal(t, "redis://cache:6379/2", cfg.Cache.RedisURL)
		assert.Equal(t, "console", cfg.Logging.Format)

		// untouched sections keep their defaults
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, "/ws", cfg.WebSocket.Path)
	})

	t.Run("EnvironmentOverride", func(t *testing.T) {
		viper.Reset()
		t.Setenv("SENTINEL_SERVER_PORT", "9191")
		t.Setenv("SENTINEL_DATABASE_URL", "postgres://u:p@db/terms")
		t.Setenv("SENTINEL_TERMS_SOURCE", "database")

		cfg, err := Load(writeConfig(t, "logging:\n  level: info\n"))
		require.NoError(t, err)
		assert.Equal(t, 9191, cfg.Server.Port)
		assert.Equal(t, "database", cfg.Terms.Source)
		assert.Equal(t, "postgres://u:p@db/terms", cfg.Database.URL)
	})

	t.Run("InvalidTermsSource", func(t *testing.T) {
		viper.Reset()
		_, err := Load(writeConfig(t, "terms:\n  source: s3\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid terms source")
	})

	t.Run("DatabaseSourceNeedsURL", func(t *testing.T) {
		viper.Reset()
		_, err := Load(writeConfig(t, "terms:\n  source: database\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.url")
	})
}

func TestValidateConfig(t *testing.T) {
	t.Run("DefaultsAreValid", func(t *testing.T) {
		assert.NoError(t, validateConfig(GetDefaults()))
	})

	cases := map[string]func(*Config){
		"port":       func(c *Config) { c.Server.Port = 0 },
		"debounce":   func(c *Config) { c.Detector.Debounce = 0 },
		"level":      func(c *Config) { c.Logging.Level = "trace" },
		"format":     func(c *Config) { c.Logging.Format = "xml" },
		"rate limit": func(c *Config) { c.RateLimit.Burst = 0 },
		"cache url":  func(c *Config) { c.Cache.Enabled = true; c.Cache.RedisURL = "" },
		"terms path": func(c *Config) { c.Terms.Path = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := GetDefaults()
			mutate(cfg)
			assert.Error(t, validateConfig(cfg))
		})
	}
}
