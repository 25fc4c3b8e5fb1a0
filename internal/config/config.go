package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envKeys are bound explicitly so they can be set from the environment even
// when the config file does not mention them.
var envKeys = []string{
	"server.port",
	"terms.source",
	"terms.path",
	"database.url",
	"cache.enabled",
	"cache.redis_url",
	"logging.level",
	"logging.format",
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	config := GetDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/feedback-sentinel/")
	viper.AddConfigPath("$HOME/.feedback-sentinel/")

	// Environment variable overrides
	viper.SetEnvPrefix("SENTINEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for _, key := range envKeys {
		if err := viper.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error - defaults apply
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Server.MaxTextBytes <= 0 {
		return fmt.Errorf("invalid max_text_bytes: %d", config.Server.MaxTextBytes)
	}

	if config.Detector.Debounce <= 0 {
		return fmt.Errorf("invalid detector debounce: %s", config.Detector.Debounce)
	}

	switch config.Terms.Source {
	case "file":
		if config.Terms.Path == "" {
			return fmt.Errorf("terms.path is required when terms.source is file")
		}
	case "database":
		if config.Database.URL == "" {
			return fmt.Errorf("database.url is required when terms.source is database")
		}
	default:
		return fmt.Errorf("invalid terms source: %s (must be file or database)", config.Terms.Source)
	}

	if config.Cache.Enabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("cache.redis_url is required when the cache is enabled")
	}

	if config.RateLimit.Enabled && (config.RateLimit.RequestsPerMinute <= 0 || config.RateLimit.Burst <= 0) {
		return fmt.Errorf("invalid rate limit: %d/min burst %d", config.RateLimit.RequestsPerMinute, config.RateLimit.Burst)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// Watch re-reads the configuration file whenever it changes. Invalid
// configurations are reported to onError and otherwise ignored.
func Watch(callback func(*Config), onError func(error)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := viper.Unmarshal(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("failed to unmarshal changed config %s: %w", e.Name, err))
			}
			return
		}

		if err := validateConfig(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("changed config %s is invalid: %w", e.Name, err))
			}
			return
		}

		callback(newConfig)
	})
	viper.WatchConfig()
}
