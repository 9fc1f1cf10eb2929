package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config is the root configuration document. It is decoded strictly
// (DisallowUnknownFields) from JSON or YAML so typos in section keys are
// caught at load time instead of silently ignored.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Planner   PlannerConfig   `json:"planner"`
	Source    SourceConfig    `json:"source"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
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

// SchedulerConfig tunes the task scheduler.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - max_workers: 5
//   - queue_high_water: 100
//   - health_check_interval: "60s"
//   - long_running_after: "5m"
type SchedulerConfig struct {
	MaxWorkers     int `json:"max_workers,omitempty"`
	QueueHighWater int `json:"queue_high_water,omitempty"`

	HealthCheckInterval string `json:"health_check_interval,omitempty"`
	LongRunningAfter    string `json:"long_running_after,omitempty"`
}

// PlannerConfig controls the dataset planner that turns the ledger of
// already-loaded (dataset, company, period) combinations into collection
// tasks.
//
// RescanSpec is a cron spec understood by robfig/cron (e.g. "@every 30m").
type PlannerConfig struct {
	Enabled   bool     `json:"enabled"`
	StartYear int      `json:"start_year,omitempty"`
	Companies []string `json:"companies"`

	RescanSpec string `json:"rescan_spec,omitempty"`
	// CleanupAge is a Go duration string; completed tasks older than this
	// are evicted from the scheduler registry on each rescan. "0s" disables
	// cleanup.
	CleanupAge string `json:"cleanup_age,omitempty"`
}

// SourceConfig configures the upstream finance API client.
type SourceConfig struct {
	BaseURL   string `json:"base_url"`
	AppKey    string `json:"app_key"`
	AppSecret string `json:"app_secret"` // do not log

	// RatePerSec caps outgoing requests; 0 means unlimited.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`

	// Timeout is a Go duration string for a single request. Default "30s".
	Timeout string `json:"timeout,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./finflow.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// MetricsConfig controls the optional Prometheus endpoint.
//
// Prefer binding to localhost (e.g. "127.0.0.1:9145").
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9145"
}

// Validate checks invariants that strict decoding cannot express. It is
// installed as the watch validator so a bad edit never replaces a good
// running config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Scheduler.MaxWorkers < 0 {
		return errors.New("scheduler.max_workers must be >= 0")
	}
	if cfg.Scheduler.QueueHighWater < 0 {
		return errors.New("scheduler.queue_high_water must be >= 0")
	}
	if _, err := ParseDurationField("scheduler.health_check_interval", cfg.Scheduler.HealthCheckInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.long_running_after", cfg.Scheduler.LongRunningAfter); err != nil {
		return err
	}
	if _, err := ParseDurationField("planner.cleanup_age", cfg.Planner.CleanupAge); err != nil {
		return err
	}
	if _, err := ParseDurationField("source.timeout", cfg.Source.Timeout); err != nil {
		return err
	}
	if cfg.Planner.Enabled {
		if strings.TrimSpace(cfg.Source.BaseURL) == "" {
			return errors.New("planner.enabled requires source.base_url")
		}
		if len(cfg.Planner.Companies) == 0 {
			return errors.New("planner.enabled requires at least one company code")
		}
		for i, c := range cfg.Planner.Companies {
			if strings.TrimSpace(c) == "" {
				return fmt.Errorf("planner.companies[%d] is empty", i)
			}
		}
		if cfg.Planner.StartYear < 0 {
			return errors.New("planner.start_year must be >= 0")
		}
	}
	if cfg.Source.RatePerSec < 0 {
		return errors.New("source.rate_per_sec must be >= 0")
	}
	if cfg.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}
