package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthill-platform/anthill-market/internal/storage/relationaldb"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "market.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MARKET_AUTH_SECRET", "test-secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.API.Listen)
	assert.Equal(t, 10*time.Second, cfg.API.ShutdownTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "market.db", cfg.Database.Database)
	assert.Equal(t, time.Minute, cfg.Market.ReapInterval)
	assert.Equal(t, 30*24*time.Hour, cfg.Market.MaxOrderLifetime)
	assert.Equal(t, "log", cfg.Notify.Mode)
	assert.True(t, cfg.Notify.Websocket)
	assert.Equal(t, "test-secret", cfg.Auth.Secret)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[api]
listen = ":9090"

[database]
driver = "postgres"
host = "db.internal"
database = "market"
password = "hunter2"

[notify]
mode = "webhook"
webhook_url = "http://events.internal/market"

[auth]
secret = "file-secret"

[log]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.API.Listen)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "webhook", cfg.Notify.Mode)
	assert.Equal(t, "http://events.internal/market", cfg.Notify.WebhookURL)
	assert.Equal(t, "file-secret", cfg.Auth.Secret)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[api]
listen = ":9090"

[auth]
secret = "file-secret"
`)
	t.Setenv("MARKET_API_LISTEN", ":7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.API.Listen)
}

func TestLoadRequiresSecret(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.secret")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			API:      APIConfig{Listen: ":8080"},
			Database: *relationaldb.SQLiteConfig("market.db"),
			Market:   MarketConfig{ReapInterval: time.Minute},
			Notify:   NotifyConfig{Mode: "log"},
			Auth:     AuthConfig{Secret: "s"},
			Log:      LogConfig{Level: "info", Format: "text"},
		}
	}

	cfg := valid()
	require.NoError(t, cfg.Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing listen", func(c *Config) { c.API.Listen = "" }},
		{"negative reap interval", func(c *Config) { c.Market.ReapInterval = -time.Second }},
		{"bad notify mode", func(c *Config) { c.Notify.Mode = "pigeon" }},
		{"webhook mode without url", func(c *Config) { c.Notify.Mode = "webhook" }},
		{"missing secret", func(c *Config) { c.Auth.Secret = "" }},
		{"bad log level", func(c *Config) { c.Log.Level = "chatty" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
