package storage

import (
	"context"
	"errors"
	"strings"

	logx "finflow/pkg/logx"
)

// Store is the persistence API used by the pipeline and the run journal.
//
// The dataset ledger records which (dataset, company, period) combinations
// have already been loaded so the planner never schedules duplicate work.
// The run journal keeps per-attempt outcomes for operators; the scheduler's
// in-memory registry is intentionally not persisted.
type Store interface {
	AppendRun(ctx context.Context, r RunRecord) error
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)

	HasDataset(ctx context.Context, dataset, company, period string) (bool, error)
	MarkDataset(ctx context.Context, dataset, company, period string, rows int) error

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
