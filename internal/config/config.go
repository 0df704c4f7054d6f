// Package config holds the service configuration and its loader.
// Values come from defaults, an optional TOML file, and MARKET_*
// environment variables, in that order.
package config

import (
	"fmt"
	"time"

	"github.com/anthill-platform/anthill-market/internal/storage/relationaldb"
)

// Config is the full service configuration.
type Config struct {
	API      APIConfig           `mapstructure:"api"`
	Database relationaldb.Config `mapstructure:"database"`
	Market   MarketConfig        `mapstructure:"market"`
	Notify   NotifyConfig        `mapstructure:"notify"`
	Auth     AuthConfig          `mapstructure:"auth"`
	Log      LogConfig           `mapstructure:"log"`
}

// APIConfig configures the HTTP listener.
type APIConfig struct {
	Listen          string        `mapstructure:"listen"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MarketConfig configures the engine.
type MarketConfig struct {
	ReapInterval     time.Duration `mapstructure:"reap_interval"`
	MaxOrderLifetime time.Duration `mapstructure:"max_order_lifetime"`
	CacheSize        int           `mapstructure:"cache_size"`
}

// NotifyConfig configures event delivery. Mode selects the base sink;
// the websocket hub and the outbox are layered on top when enabled.
type NotifyConfig struct {
	Mode           string        `mapstructure:"mode"`
	WebhookURL     string        `mapstructure:"webhook_url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
	Websocket      bool          `mapstructure:"websocket"`
	OutboxPath     string        `mapstructure:"outbox_path"`
	DrainInterval  time.Duration `mapstructure:"drain_interval"`
}

// AuthConfig configures token verification.
type AuthConfig struct {
	Secret string `mapstructure:"secret"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate checks the configuration for errors that would only surface
// at an awkward time later.
func (c *Config) Validate() error {
	if c.API.Listen == "" {
		return fmt.Errorf("api.listen is required")
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.Market.ReapInterval < 0 {
		return fmt.Errorf("market.reap_interval must not be negative")
	}
	if c.Market.MaxOrderLifetime < 0 {
		return fmt.Errorf("market.max_order_lifetime must not be negative")
	}

	switch c.Notify.Mode {
	case "log", "webhook":
	default:
		return fmt.Errorf("notify.mode must be log or webhook, got %q", c.Notify.Mode)
	}
	if c.Notify.Mode == "webhook" && c.Notify.WebhookURL == "" {
		return fmt.Errorf("notify.webhook_url is required in webhook mode")
	}

	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
