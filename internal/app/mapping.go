package app

import (
	"strings"
	"time"

	"finflow/internal/config"
	"finflow/internal/pipeline"
	"finflow/internal/sched"
	"finflow/internal/source"
	"finflow/internal/storage"
)

func mapSchedulerConfig(cfg *config.Config) (sched.Config, error) {
	if cfg == nil {
		return sched.Config{}, nil
	}
	interval, err := config.ParseDurationOrDefault(
		"scheduler.health_check_interval", cfg.Scheduler.HealthCheckInterval, 60*time.Second)
	if err != nil {
		return sched.Config{}, err
	}
	longAfter, err := config.ParseDurationOrDefault(
		"scheduler.long_running_after", cfg.Scheduler.LongRunningAfter, 5*time.Minute)
	if err != nil {
		return sched.Config{}, err
	}
	return sched.Config{
		MaxWorkers:          cfg.Scheduler.MaxWorkers,
		QueueHighWater:      cfg.Scheduler.QueueHighWater,
		HealthCheckInterval: interval,
		LongRunningAfter:    longAfter,
	}, nil
}

// mapStorageConfig returns (storageConfig, enabled, error). Nil section or
// empty driver means storage is disabled.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, true, nil
}

func mapSourceConfig(cfg *config.Config) (source.Config, error) {
	timeout, err := config.ParseDurationOrDefault("source.timeout", cfg.Source.Timeout, 30*time.Second)
	if err != nil {
		return source.Config{}, err
	}
	return source.Config{
		BaseURL:    cfg.Source.BaseURL,
		AppKey:     cfg.Source.AppKey,
		AppSecret:  cfg.Source.AppSecret,
		RatePerSec: cfg.Source.RatePerSec,
		Burst:      cfg.Source.Burst,
		Timeout:    timeout,
	}, nil
}

func mapPlannerConfig(cfg *config.Config) (pipeline.Config, error) {
	cleanup, err := config.ParseDurationOrDefault("planner.cleanup_age", cfg.Planner.CleanupAge, 24*time.Hour)
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		StartYear:  cfg.Planner.StartYear,
		Companies:  cfg.Planner.Companies,
		RescanSpec: cfg.Planner.RescanSpec,
		CleanupAge: cleanup,
	}, nil
}
