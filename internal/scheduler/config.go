package scheduler

import (
	"time"

	"github.com/smallbiznis/payables/internal/config"
)

// Config controls scheduler intervals and job deadlines.
type Config struct {
	Enabled     bool
	RunInterval time.Duration
	JobTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		RunInterval: time.Minute,
		JobTimeout:  30 * time.Second,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:     cfg.SchedulerEnabled,
		RunInterval: time.Duration(cfg.SchedulerIntervalSeconds) * time.Second,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.JobTimeout > c.RunInterval {
		c.JobTimeout = c.RunInterval
	}
	return c
}
