package scheduler

import (
	"time"

	"github.com/smallbiznis/callquota/internal/config"
)

// Config controls scheduler intervals, batch sizes and job parallelism.
type Config struct {
	RunInterval       time.Duration
	BatchSize         int
	ReconcileParallel int
	RetentionInterval time.Duration
	JobTimeout        time.Duration
	RetentionTimeout  time.Duration
	EnabledJobs       []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       time.Minute,
		BatchSize:         100,
		ReconcileParallel: 4,
		RetentionInterval: 24 * time.Hour,
		JobTimeout:        30 * time.Second,
		RetentionTimeout:  15 * time.Minute,
	}
}

// ProvideConfig maps the application config onto scheduler settings.
func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:       cfg.Scheduler.RunInterval,
		BatchSize:         cfg.Scheduler.BatchSize,
		ReconcileParallel: cfg.Scheduler.ReconcileParallel,
		RetentionInterval: cfg.Scheduler.RetentionInterval,
		RetentionTimeout:  cfg.RateLimit.SweepLockTTL,
		EnabledJobs:       cfg.Scheduler.EnabledJobs,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.ReconcileParallel <= 0 {
		c.ReconcileParallel = defaults.ReconcileParallel
	}
	if c.RetentionInterval <= 0 {
		c.RetentionInterval = defaults.RetentionInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.RetentionTimeout <= 0 {
		c.RetentionTimeout = defaults.RetentionTimeout
	}
	return c
}
