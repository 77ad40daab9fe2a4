package monitor

import (
	"errors"
	"time"
)

// Config holds the polling and retry settings for a Monitor.
type Config struct {
	DefaultPollInterval time.Duration `mapstructure:"default_poll_interval"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"`
	MaxRetries          int           `mapstructure:"max_retries"`
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		DefaultPollInterval: 30 * time.Second,
		RetryDelay:          5 * time.Second,
		MaxRetries:          3,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.DefaultPollInterval <= 0 {
		return errors.New("default poll interval must be positive")
	}
	if c.RetryDelay <= 0 {
		return errors.New("retry delay must be positive")
	}
	if c.RetryDelay >= c.DefaultPollInterval {
		return errors.New("retry delay must be shorter than the poll interval")
	}
	if c.MaxRetries < 0 {
		return errors.New("max retries must not be negative")
	}
	return nil
}
