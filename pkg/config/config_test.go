package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1280, cfg.ViewportWidth)
	assert.Equal(t, 720, cfg.ViewportHeight)
	assert.Equal(t, 2.0, cfg.DeviceScaleFactor)
	assert.Equal(t, 30, cfg.RequestsPerMinute)
	assert.Equal(t, 2*time.Second, cfg.MinDelay)
	assert.Equal(t, 4*time.Second, cfg.MaxDelay)
	assert.Equal(t, 400*time.Millisecond, cfg.ExpansionDelay)
	assert.Equal(t, 4, cfg.MaxExpansionAttempts)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 0.95, cfg.MinDensity)
	assert.Equal(t, float64(380), cfg.ContentAreaX)
	assert.Equal(t, float64(848), cfg.ContentAreaWidth)
	assert.Equal(t, 30*time.Minute, cfg.StaleAfter)
	assert.Equal(t, 15*time.Minute, cfg.LockTTL)
}

func TestLoadEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CAPTURE_REQUESTS_PER_MINUTE", "12")
	t.Setenv("CAPTURE_MIN_DELAY", "500ms")
	t.Setenv("CAPTURE_LOG_FORMAT", "text")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.RequestsPerMinute)
	assert.Equal(t, 500*time.Millisecond, cfg.MinDelay)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CAPTURE_MAX_RETRIES=7\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("CAPTURE_MAX_RETRIES") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxRetries)
}

func TestValidate(t *testing.T) {
	chdir(t, t.TempDir())
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"inverted delays", func(c *Config) { c.MinDelay, c.MaxDelay = 5*time.Second, time.Second }},
		{"density above one", func(c *Config) { c.MinDensity = 1.5 }},
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }},
		{"postgres without url", func(c *Config) { c.DBDriver = "postgres" }},
		{"pattern without group", func(c *Config) { c.ArticlePattern = `https://example\.com/a/[a-z]+` }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
		{"zero attempts", func(c *Config) { c.MaxExpansionAttempts = 0 }},
		{"negative batch size", func(c *Config) { c.BatchSize = -1 }},
		{"zero process interval", func(c *Config) { c.ProcessInterval = 0 }},
		{"zero stale after", func(c *Config) { c.StaleAfter = 0 }},
		{"stale after below lock ttl", func(c *Config) { c.StaleAfter, c.LockTTL = time.Minute, 10*time.Minute }},
		{"zero lock ttl", func(c *Config) { c.LockTTL = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoadRejectsZeroIntervals(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CAPTURE_PROCESS_INTERVAL", "0s")
	t.Setenv("CAPTURE_STALE_AFTER", "0s")

	_, err := Load("")
	require.Error(t, err)
	assert.ErrorContains(t, err, "process_interval")
	assert.ErrorContains(t, err, "stale_after")
}

func TestCredentialsFile(t *testing.T) {
	c := &Config{CookiePath: filepath.Join("secrets", "auth_state.json")}
	assert.Equal(t, filepath.Join("secrets", "credentials.json"), c.CredentialsFile())

	c.CredentialsPath = "/etc/creds.json"
	assert.Equal(t, "/etc/creds.json", c.CredentialsFile())
}

// chdir changes the working directory for the duration of the test, like
// testing.T.Chdir (Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { require.NoError(t, os.Chdir(old)) })
}
