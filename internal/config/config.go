package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/operkit/operkit/internal/logger"
)

// FileConfig represents the top-level TOML structure of an operkit
// agent configuration file.
type FileConfig struct {
	Finalizer    string         `toml:"finalizer" mapstructure:"finalizer"`
	StatusPrefix string         `toml:"status_prefix" mapstructure:"status_prefix"`
	Listen       string         `toml:"listen" mapstructure:"listen"`
	Journal      JournalConfig  `toml:"journal" mapstructure:"journal"`
	Log          logger.Config  `toml:"log" mapstructure:"log"`
	Simulate     SimulateConfig `toml:"simulate" mapstructure:"simulate"`
}

// JournalConfig selects the lifecycle-event sink by DSN; empty disables
// journaling.
type JournalConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// SimulateConfig drives the synthetic-churn runner.
type SimulateConfig struct {
	Objects       int           `toml:"objects" mapstructure:"objects"`
	ChurnInterval time.Duration `toml:"churn_interval" mapstructure:"churn_interval"`
	Backoff       time.Duration `toml:"backoff" mapstructure:"backoff"`
	Timeout       time.Duration `toml:"timeout" mapstructure:"timeout"`
	Disobedient   bool          `toml:"disobedient" mapstructure:"disobedient"`
}

// Default returns the built-in configuration used when no file is given.
func Default() FileConfig {
	return FileConfig{
		Finalizer:    "operkit.dev/daemons",
		StatusPrefix: "operkit",
		Listen:       ":8420",
		Log:          logger.Config{Level: "info", Color: true},
		Simulate: SimulateConfig{
			Objects:       10,
			ChurnInterval: 2 * time.Second,
			Backoff:       time.Second,
			Timeout:       3 * time.Second,
		},
	}
}

// Load parses a TOML config file, layered over the defaults.
func Load(path string) (FileConfig, error) {
	fc := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return fc, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&fc); err != nil {
		return fc, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := fc.Validate(); err != nil {
		return fc, err
	}
	return fc, nil
}

// Validate rejects configuration the supervisor would choke on later.
func (fc FileConfig) Validate() error {
	if fc.Finalizer == "" {
		return fmt.Errorf("finalizer must not be empty")
	}
	if fc.StatusPrefix == "" {
		return fmt.Errorf("status_prefix must not be empty")
	}
	if fc.Simulate.Objects < 0 {
		return fmt.Errorf("simulate.objects must not be negative, got %d", fc.Simulate.Objects)
	}
	if fc.Simulate.ChurnInterval < 0 {
		return fmt.Errorf("simulate.churn_interval must not be negative, got %v", fc.Simulate.ChurnInterval)
	}
	if fc.Simulate.Backoff < 0 {
		return fmt.Errorf("simulate.backoff must not be negative, got %v", fc.Simulate.Backoff)
	}
	if fc.Simulate.Timeout < 0 {
		return fmt.Errorf("simulate.timeout must not be negative, got %v", fc.Simulate.Timeout)
	}
	return nil
}
