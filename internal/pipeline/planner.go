// Package pipeline turns the dataset ledger into collection work.
//
// The planner walks every (dataset, company, key) combination from the
// configured start year to now, skips combinations the ledger already has,
// and submits one named task per missing combination. A cron-driven rescan
// picks up new accounting periods as calendar months roll over.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"finflow/internal/sched"
	"finflow/internal/source"
	logx "finflow/pkg/logx"
)

const defaultRescanSpec = "@every 30m"

// Collector is a standing collection job (org structure, cash flow,
// expense reports). Collectors are rescheduled on every rescan once their
// previous run has been cleaned out of the scheduler registry.
type Collector struct {
	Name     string
	Priority int
	Run      sched.Func
}

// Config configures the planner.
type Config struct {
	StartYear  int
	Companies  []string
	RescanSpec string
	// CleanupAge evicts terminal tasks older than this on each rescan.
	// Zero disables cleanup.
	CleanupAge time.Duration

	Collectors []Collector

	// now is a test hook.
	now func() time.Time
}

// Planner schedules dataset collection tasks.
type Planner struct {
	cfg    Config
	sch    *sched.Scheduler
	src    Source
	ledger Ledger
	log    logx.Logger

	cron *cron.Cron

	mu      sync.Mutex
	running bool
}

func NewPlanner(cfg Config, sch *sched.Scheduler, src Source, ledger Ledger, log logx.Logger) *Planner {
	if strings.TrimSpace(cfg.RescanSpec) == "" {
		cfg.RescanSpec = defaultRescanSpec
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	if cfg.StartYear <= 0 {
		cfg.StartYear = cfg.now().Year()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Planner{
		cfg:    cfg,
		sch:    sch,
		src:    src,
		ledger: ledger,
		log:    log,
	}
}

// Start performs an initial rescan and begins the periodic ones.
func (p *Planner) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	c := cron.New()
	p.cron = c
	p.mu.Unlock()

	p.Rescan(ctx)

	_, err := c.AddFunc(p.cfg.RescanSpec, func() {
		defer func() {
			if r := recover(); r != nil {
				p.log.Error("rescan panicked", logx.Any("panic", r))
			}
		}()
		p.Rescan(context.Background())
	})
	if err != nil {
		p.mu.Lock()
		p.running = false
		p.cron = nil
		p.mu.Unlock()
		return fmt.Errorf("pipeline: bad rescan spec %q: %w", p.cfg.RescanSpec, err)
	}
	c.Start()
	p.log.Info("planner started",
		logx.String("rescan_spec", p.cfg.RescanSpec),
		logx.Int("companies", len(p.cfg.Companies)),
		logx.Int("start_year", p.cfg.StartYear),
	)
	return nil
}

// Stop halts periodic rescans and waits briefly for an in-flight one.
func (p *Planner) Stop() {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.running = false
	p.mu.Unlock()
	if c == nil {
		return
	}
	done := c.Stop().Done()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		p.log.Warn("planner stop timed out waiting for rescan")
	}
}

// Rescan submits one task per missing (dataset, company, key) combination
// and reschedules standing collectors. Returns the number of tasks added.
func (p *Planner) Rescan(ctx context.Context) int {
	now := p.cfg.now()
	added := 0

	for _, year := range source.FiscalYears(p.cfg.StartYear, now) {
		for _, ds := range yearlyDatasets {
			for _, company := range p.cfg.Companies {
				if p.schedule(ctx, ds, company, year) {
					added++
				}
			}
		}
	}

	for _, period := range source.PeriodCodes(p.cfg.StartYear, now) {
		for _, ds := range periodDatasets {
			for _, company := range p.cfg.Companies {
				if p.schedule(ctx, ds, company, period) {
					added++
				}
			}
		}
	}

	for _, col := range p.cfg.Collectors {
		if col.Run == nil {
			continue
		}
		if p.sch.AddTask(col.Name, col.Run, col.Priority, sched.DefaultMaxRetries) {
			added++
			p.log.Info("collector scheduled", logx.String("task", col.Name), logx.Int("priority", col.Priority))
		}
	}

	if p.cfg.CleanupAge > 0 {
		if removed := p.sch.ClearCompleted(p.cfg.CleanupAge); removed > 0 {
			p.log.Info("cleared completed tasks", logx.Int("removed", removed))
		}
	}

	st := p.sch.SystemStatus()
	p.log.Info("rescan finished",
		logx.Int("added", added),
		logx.Int("queued", st.QueueDepth),
		logx.Int("active", st.ActiveTasks),
		logx.Int("completed", st.Tasks.Completed),
		logx.Int("failed", st.Tasks.Failed),
	)
	return added
}

// schedule submits one collection task unless the ledger already has the
// combination or a task with the same name is already registered.
func (p *Planner) schedule(ctx context.Context, ds dataset, company, key string) bool {
	if p.ledger != nil {
		have, err := p.ledger.HasDataset(ctx, ds.name, company, key)
		if err != nil {
			p.log.Warn("ledger check failed",
				logx.String("dataset", ds.name),
				logx.String("company", company),
				logx.String("key", key),
				logx.Err(err),
			)
			return false
		}
		if have {
			return false
		}
	}

	name := taskName(ds.name, company, key)
	fn := p.collectFunc(ds, company, key)
	if !p.sch.AddTask(name, fn, ds.priority, sched.DefaultMaxRetries) {
		return false
	}
	p.log.Debug("collection task scheduled",
		logx.String("task", name),
		logx.Int("priority", ds.priority),
	)
	return true
}

// collectFunc builds the task body: fetch rows from the source, then mark
// the ledger so future rescans skip the combination.
func (p *Planner) collectFunc(ds dataset, company, key string) sched.Func {
	return func(ctx context.Context) (any, error) {
		rows, err := ds.fetch(ctx, p.src, company, key)
		if err != nil {
			return nil, err
		}
		if p.ledger != nil {
			if err := p.ledger.MarkDataset(ctx, ds.name, company, key, len(rows)); err != nil {
				return nil, fmt.Errorf("mark ledger: %w", err)
			}
		}
		return map[string]any{"rows": len(rows)}, nil
	}
}

func taskName(dataset, company, key string) string {
	return fmt.Sprintf("collect_%s_%s_%s", dataset, company, key)
}
