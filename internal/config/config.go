// Package config loads demo settings from defaults, SCOPED_* environment
// variables and bound command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment variables, e.g. SCOPED_LOG_LEVEL.
const EnvPrefix = "SCOPED"

// Config holds the complete demo configuration.
type Config struct {
	Log LogConfig `mapstructure:"log"`
}

// LogConfig holds diagnostic logging settings. Logs are written to stderr.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var (
	validLevels  = []string{"debug", "info", "warn", "error"}
	validFormats = []string{"text", "json"}
)

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults keeps diagnostics silent unless asked for.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
}

// New decodes and validates the configuration held by v.
func New(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if !contains(validLevels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level %q must be one of %s", c.Log.Level, strings.Join(validLevels, ", ")))
	}
	if !contains(validFormats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format %q must be one of %s", c.Log.Format, strings.Join(validFormats, ", ")))
	}
	return errors.Join(errs...)
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
