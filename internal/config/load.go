package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	// Defaults double as the key registry viper needs for env lookups.
	v.SetDefault("log.level", "info")
	v.SetDefault("manager.max_queue", 10000)
	v.SetDefault("manager.default_timeout", "180s")
	v.SetDefault("manager.global_limit", 0)
	v.SetDefault("manager.thread_limit", 0)
	v.SetDefault("manager.process_limit", 0)

	// Optional config file in the working directory.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables: ASYNCTASK_LOG_LEVEL, ASYNCTASK_MANAGER_MAX_QUEUE, ...
	v.SetEnvPrefix("ASYNCTASK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
