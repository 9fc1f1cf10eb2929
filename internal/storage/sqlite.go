package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "finflow/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(at, task, status, attempt, priority, ok, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.At.Format(time.RFC3339Nano), r.Task, r.Status, r.Attempt, r.Priority,
		boolInt(r.OK), nullStr(r.Error), r.TookMS,
	)
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, task, status, attempt, priority, ok, err, took_ms
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var at string
		var ok int
		var errStr sql.NullString
		if err := rows.Scan(&at, &r.Task, &r.Status, &r.Attempt, &r.Priority, &ok, &errStr, &r.TookMS); err != nil {
			return nil, err
		}
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		r.OK = ok != 0
		r.Error = errStr.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) HasDataset(ctx context.Context, dataset, company, period string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM dataset_ledger WHERE dataset = ? AND company = ? AND period = ?`,
		dataset, company, period).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) MarkDataset(ctx context.Context, dataset, company, period string, rows int) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dataset_ledger(dataset, company, period, rows, loaded_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(dataset, company, period) DO UPDATE SET rows=excluded.rows, loaded_at=excluded.loaded_at`,
		dataset, company, period, rows, time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
