// Package config reads the process-level gnssqc settings from the
// environment. Command line flags override these values.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"

	"github.com/signalsfoundry/gnssqc/internal/logging"
	"github.com/signalsfoundry/gnssqc/internal/observability"
)

// Prefix is the environment variable prefix, e.g. GNSSQC_LOG_LEVEL.
const Prefix = "GNSSQC"

// Config holds every environment driven setting.
type Config struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn warning error"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=text json"`

	// WorkspaceRoot holds one directory per context.
	WorkspaceRoot string `envconfig:"WORKSPACE" default:"WORKSPACE" validate:"required"`
	// MaxDepth bounds directory recursion below each -d directory.
	MaxDepth int `envconfig:"MAX_DEPTH" default:"5" validate:"gte=0,lte=32"`
	// MetricsFile, when set, receives a Prometheus text dump at exit.
	MetricsFile string `envconfig:"METRICS_FILE"`

	Tracing observability.TracingConfig `envconfig:"TRACING"`
}

var validate = validator.New()

// Load processes GNSSQC_* variables and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg against its bounds.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Logging returns the logger settings.
func (c Config) Logging() logging.Config {
	return logging.Config{Level: c.LogLevel, Format: c.LogFormat}
}
