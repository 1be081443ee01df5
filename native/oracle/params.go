package oracle

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config controls oracle engine behaviour.
type Config struct {
	// DefaultMaxAgeSeconds bounds observation freshness when the caller does
	// not supply an explicit maximum age.
	DefaultMaxAgeSeconds int64 `toml:"default_max_age_seconds"`
	// TwapPeriodSeconds is the window used when quoting the rolling TWAP.
	TwapPeriodSeconds int64 `toml:"twap_period_seconds"`
	// RecorderIntervalSeconds is the expected cadence of the observation
	// recorder.
	RecorderIntervalSeconds int64 `toml:"recorder_interval_seconds"`
}

// LoadConfig reads engine parameters from a TOML file and applies defaults to
// unset values.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("oracle: decode config %s: %w", path, err)
	}
	return cfg.Normalise(), nil
}

// Normalise applies defaults to unset configuration values.
func (c Config) Normalise() Config {
	cfg := c
	if cfg.DefaultMaxAgeSeconds <= 0 {
		cfg.DefaultMaxAgeSeconds = 3600
	}
	if cfg.TwapPeriodSeconds <= 0 {
		cfg.TwapPeriodSeconds = 86400
	}
	if cfg.RecorderIntervalSeconds <= 0 {
		cfg.RecorderIntervalSeconds = 300
	}
	return cfg
}

// DefaultMaxAge returns the configured freshness window as a duration.
func (c Config) DefaultMaxAge() time.Duration {
	return time.Duration(c.DefaultMaxAgeSeconds) * time.Second
}

// TwapPeriod returns the configured TWAP window as a duration.
func (c Config) TwapPeriod() time.Duration {
	return time.Duration(c.TwapPeriodSeconds) * time.Second
}

// RecorderInterval returns the recorder cadence as a duration.
func (c Config) RecorderInterval() time.Duration {
	return time.Duration(c.RecorderIntervalSeconds) * time.Second
}
