package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load builds the configuration from defaults, an optional config file,
// and MARKET_* environment variables (api.listen -> MARKET_API_LISTEN).
// An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", path)
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("MARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.listen", ":8080")
	v.SetDefault("api.read_timeout", 15*time.Second)
	v.SetDefault("api.write_timeout", 15*time.Second)
	v.SetDefault("api.idle_timeout", time.Minute)
	v.SetDefault("api.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.database", "market.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.username", "market")
	v.SetDefault("database.ssl_mode", "prefer")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)
	v.SetDefault("database.default_timeout", 30*time.Second)
	v.SetDefault("database.enable_wal_mode", true)
	v.SetDefault("database.enable_foreign_keys", true)

	v.SetDefault("market.reap_interval", time.Minute)
	v.SetDefault("market.max_order_lifetime", 30*24*time.Hour)
	v.SetDefault("market.cache_size", 256)

	v.SetDefault("notify.mode", "log")
	v.SetDefault("notify.webhook_timeout", 10*time.Second)
	v.SetDefault("notify.websocket", true)
	v.SetDefault("notify.outbox_path", "")
	v.SetDefault("notify.drain_interval", 15*time.Second)

	v.SetDefault("auth.secret", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}
