package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{
		"logging": {"level": "debug", "console": true},
		"scheduler": {"max_workers": 8, "health_check_interval": "30s"},
		"planner": {"enabled": true, "start_year": 2024, "companies": ["C001", "C002"]},
		"source": {"base_url": "https://fin.example.com", "app_key": "k", "app_secret": "s"},
		"storage": {"driver": "sqlite", "path": "./finflow.db"},
		"metrics": {"enabled": true, "addr": "127.0.0.1:9145"}
	}`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Scheduler.MaxWorkers != 8 || cfg.Scheduler.HealthCheckInterval != "30s" {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if !cfg.Planner.Enabled || len(cfg.Planner.Companies) != 2 {
		t.Fatalf("planner = %+v", cfg.Planner)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
logging:
  level: info
scheduler:
  max_workers: 3
planner:
  enabled: false
  companies: []
source:
  base_url: https://fin.example.com
  app_key: k
  app_secret: s
`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Scheduler.MaxWorkers != 3 {
		t.Fatalf("max_workers = %d, want 3", cfg.Scheduler.MaxWorkers)
	}
	if cfg.Source.BaseURL != "https://fin.example.com" {
		t.Fatalf("base_url = %q", cfg.Source.BaseURL)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"scheduler": {"max_wrokers": 8}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("misspelled key must be rejected")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"logging": {"level": "info"}} {"extra": true}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("trailing tokens must be rejected")
	}
}

func TestParseMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := NewManager(filepath.Join(t.TempDir(), "absent.json")).Parse(); err == nil {
		t.Fatal("missing file must error")
	}
}

func TestLoadCommitsAndGetReturnsSame(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"logging": {"level": "warn"}}`)
	m := NewManager(path)

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestPublishDropsOldestWhenSubscriberSlow(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{Logging: LoggingConfig{Level: "a"}}
	second := &Config{Logging: LoggingConfig{Level: "b"}}
	m.publish(first)
	m.publish(second)

	select {
	case got := <-ch:
		if got.Logging.Level != "b" {
			t.Fatalf("level = %q, want the latest (b)", got.Logging.Level)
		}
	default:
		t.Fatal("expected a pending config update")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	m.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Fatal("channel should be closed after Unsubscribe")
	}
	// Publishing afterwards must not panic.
	m.publish(&Config{})
	m.Unsubscribe(ch) // double unsubscribe is a no-op
}

func TestValidateTable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"empty ok", Config{}, false},
		{"negative workers", Config{Scheduler: SchedulerConfig{MaxWorkers: -1}}, true},
		{"bad interval", Config{Scheduler: SchedulerConfig{HealthCheckInterval: "soon"}}, true},
		{"negative duration", Config{Scheduler: SchedulerConfig{LongRunningAfter: "-5m"}}, true},
		{"planner without source", Config{Planner: PlannerConfig{Enabled: true, Companies: []string{"C001"}}}, true},
		{"planner without companies", Config{
			Planner: PlannerConfig{Enabled: true},
			Source:  SourceConfig{BaseURL: "https://x"},
		}, true},
		{"planner blank company", Config{
			Planner: PlannerConfig{Enabled: true, Companies: []string{" "}},
			Source:  SourceConfig{BaseURL: "https://x"},
		}, true},
		{"planner ok", Config{
			Planner: PlannerConfig{Enabled: true, StartYear: 2024, Companies: []string{"C001"}},
			Source:  SourceConfig{BaseURL: "https://x"},
		}, false},
		{"negative rate", Config{Source: SourceConfig{RatePerSec: -1}}, true},
		{"bad storage busy timeout", Config{Storage: &StorageConfig{Driver: "sqlite", BusyTimeout: "never"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 90s "); err != nil || d != 90*time.Second {
		t.Fatalf("got (%v, %v)", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("x", "fast"); err == nil {
		t.Fatal("garbage must error")
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative must error")
	}
	if d, err := ParseDurationOrDefault("x", "", 24*time.Hour); err != nil || d != 24*time.Hour {
		t.Fatalf("default: got (%v, %v)", d, err)
	}
}

func TestSummarizeChangeSections(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Logging: LoggingConfig{Level: "info"},
		Source:  SourceConfig{BaseURL: "https://a", AppSecret: "old-secret"},
	}
	newCfg := &Config{
		Logging:   LoggingConfig{Level: "debug"},
		Scheduler: SchedulerConfig{MaxWorkers: 10},
		Source:    SourceConfig{BaseURL: "https://b", AppSecret: "new-secret"},
	}

	changed, attrs := SummarizeChange(oldCfg, newCfg)

	want := []string{"logging", "scheduler", "source"}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	for i := range want {
		if changed[i] != want[i] {
			t.Fatalf("changed = %v, want %v", changed, want)
		}
	}
	if len(attrs) == 0 {
		t.Fatal("expected log attrs for changed sections")
	}
}

func TestSummarizeChangeNoDiff(t *testing.T) {
	t.Parallel()
	cfg := &Config{Logging: LoggingConfig{Level: "info"}}
	if changed, _ := SummarizeChange(cfg, cfg); len(changed) != 0 {
		t.Fatalf("changed = %v, want none", changed)
	}
}
