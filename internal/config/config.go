package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Log     LogConfig     `mapstructure:"log"     validate:"required"`
	Manager ManagerConfig `mapstructure:"manager" validate:"required"`
}

// LogConfig contains the logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
}

// ManagerConfig contains the task manager tunables. Zero limiter overrides
// select the CPU-derived defaults at manager construction.
type ManagerConfig struct {
	MaxQueue       int           `mapstructure:"max_queue"       validate:"required,gt=0"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout" validate:"gte=0"`
	GlobalLimit    int           `mapstructure:"global_limit"    validate:"gte=0"`
	ThreadLimit    int           `mapstructure:"thread_limit"    validate:"gte=0"`
	ProcessLimit   int           `mapstructure:"process_limit"   validate:"gte=0"`
}
