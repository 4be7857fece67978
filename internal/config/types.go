package config

import (
	"fmt"
	"strings"
	"time"

	"aspri/internal/dispatcher"
	"aspri/internal/retention"
	"aspri/internal/store"
	"aspri/pkg/logx"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Retention RetentionConfig `json:"retention,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	storage: { driver: sqlite, path: ./data/aspri.db }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls the plugin dispatcher.
//
// All durations are Go duration strings (e.g. "30s", "1m").
//
// Enabled is a pointer so an omitted field defaults to true while an
// explicit false turns scheduling off.
type SchedulerConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	Workers int   `json:"workers,omitempty"`

	// TickInterval is how often due schedules are scanned. Scheduling
	// granularity is one minute; shorter intervals only reduce dispatch
	// latency, they never run a schedule early.
	TickInterval string `json:"tick_interval,omitempty"`

	// ExecutionTimeout bounds a single plugin execution. "0s" keeps the
	// built-in default.
	ExecutionTimeout string `json:"execution_timeout,omitempty"`

	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// RetentionConfig controls the execution log purge.
type RetentionConfig struct {
	Days          int    `json:"days,omitempty"`
	PurgeInterval string `json:"purge_interval,omitempty"` // Go duration string
}

func (c *Config) SchedulerEnabled() bool {
	return c.Scheduler.Enabled == nil || *c.Scheduler.Enabled
}

// LogxConfig bridges the logging block to the log service.
func (c *Config) LogxConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
}

// StoreConfig bridges the storage block to the store layer.
func (c *Config) StoreConfig() (store.Config, error) {
	busy, err := durationField("storage.busy_timeout", c.Storage.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Driver:      c.Storage.Driver,
		Path:        c.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

// DispatcherConfig bridges the scheduler block to the dispatcher.
// Zero fields fall through to the dispatcher's own defaults.
func (c *Config) DispatcherConfig() (dispatcher.Config, error) {
	tick, err := durationField("scheduler.tick_interval", c.Scheduler.TickInterval)
	if err != nil {
		return dispatcher.Config{}, err
	}
	timeout, err := durationField("scheduler.execution_timeout", c.Scheduler.ExecutionTimeout)
	if err != nil {
		return dispatcher.Config{}, err
	}
	return dispatcher.Config{
		Workers:          c.Scheduler.Workers,
		TickInterval:     tick,
		ExecutionTimeout: timeout,
		RatePerSec:       c.Scheduler.RatePerSec,
	}, nil
}

// RetentionSettings bridges the retention block to the purger.
func (c *Config) RetentionSettings() (retention.Config, error) {
	ivl, err := durationOrDefault("retention.purge_interval", c.Retention.PurgeInterval, 24*time.Hour)
	if err != nil {
		return retention.Config{}, err
	}
	return retention.Config{
		Days:     c.Retention.Days,
		Interval: ivl,
	}, nil
}

// durationField parses one Go duration string from the config. Empty
// yields zero so the consumer picks its own default; negative values
// are rejected.
func durationField(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config %s: %q is not a duration", field, raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("config %s: negative duration %q", field, raw)
	}
	return d, nil
}

// durationOrDefault substitutes def when the field is absent or zero.
func durationOrDefault(field, raw string, def time.Duration) (time.Duration, error) {
	d, err := durationField(field, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}

// Validate performs the static checks that can fail a reload before it
// is committed.
func (c *Config) Validate() error {
	if _, err := c.StoreConfig(); err != nil {
		return err
	}
	if _, err := c.DispatcherConfig(); err != nil {
		return err
	}
	if _, err := c.RetentionSettings(); err != nil {
		return err
	}
	return nil
}
