package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// RunRecord journals the outcome of one task execution attempt.
// Keep it compact and schema-stable.
type RunRecord struct {
	At       time.Time
	Task     string
	Status   string // completed | failed | retry
	Attempt  int
	Priority int
	OK       bool
	Error    string
	TookMS   int64
}
