package config

import (
	"reflect"
	"sort"
	"strings"

	logx "finflow/pkg/logx"
)

// SummarizeChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging. Secrets (app_secret) are reported
// only as set/unset, never by value.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Scheduler
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.max_workers", newCfg.Scheduler.MaxWorkers),
			logx.Int("scheduler.queue_high_water", newCfg.Scheduler.QueueHighWater),
			logx.String("scheduler.health_check_interval", strings.TrimSpace(newCfg.Scheduler.HealthCheckInterval)),
			logx.String("scheduler.long_running_after", strings.TrimSpace(newCfg.Scheduler.LongRunningAfter)),
		)
	}

	// Planner
	if oldCfg.Planner.Enabled != newCfg.Planner.Enabled ||
		oldCfg.Planner.StartYear != newCfg.Planner.StartYear ||
		strings.TrimSpace(oldCfg.Planner.RescanSpec) != strings.TrimSpace(newCfg.Planner.RescanSpec) ||
		strings.TrimSpace(oldCfg.Planner.CleanupAge) != strings.TrimSpace(newCfg.Planner.CleanupAge) ||
		!reflect.DeepEqual(oldCfg.Planner.Companies, newCfg.Planner.Companies) {
		changed = append(changed, "planner")
		attrs = append(attrs,
			logx.Bool("planner.enabled", newCfg.Planner.Enabled),
			logx.Int("planner.start_year", newCfg.Planner.StartYear),
			logx.Int("planner.company_count", len(newCfg.Planner.Companies)),
			logx.String("planner.rescan_spec", strings.TrimSpace(newCfg.Planner.RescanSpec)),
		)
	}

	// Source (never log app_secret)
	if strings.TrimSpace(oldCfg.Source.BaseURL) != strings.TrimSpace(newCfg.Source.BaseURL) ||
		strings.TrimSpace(oldCfg.Source.AppKey) != strings.TrimSpace(newCfg.Source.AppKey) ||
		oldCfg.Source.RatePerSec != newCfg.Source.RatePerSec ||
		oldCfg.Source.Burst != newCfg.Source.Burst ||
		strings.TrimSpace(oldCfg.Source.Timeout) != strings.TrimSpace(newCfg.Source.Timeout) ||
		(strings.TrimSpace(oldCfg.Source.AppSecret) != "") != (strings.TrimSpace(newCfg.Source.AppSecret) != "") {
		changed = append(changed, "source")
		attrs = append(attrs,
			logx.String("source.base_url", strings.TrimSpace(newCfg.Source.BaseURL)),
			logx.Bool("source.secret_set", strings.TrimSpace(newCfg.Source.AppSecret) != ""),
			logx.Float64("source.rate_per_sec", newCfg.Source.RatePerSec),
			logx.String("source.timeout", strings.TrimSpace(newCfg.Source.Timeout)),
		)
	}

	// Storage (nil means disabled)
	oldS := oldCfg.Storage
	newS := newCfg.Storage
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldS != nil {
		oDriver = strings.TrimSpace(oldS.Driver)
		oBusy = strings.TrimSpace(oldS.BusyTimeout)
		oPathSet = strings.TrimSpace(oldS.Path) != ""
	}
	if newS != nil {
		nDriver = strings.TrimSpace(newS.Driver)
		nBusy = strings.TrimSpace(newS.BusyTimeout)
		nPathSet = strings.TrimSpace(newS.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	// Metrics
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(newCfg.Metrics.Addr)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
