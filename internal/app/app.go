// Package app wires the daemon together: config manager with hot reload,
// logging service, event bus, storage, scheduler, planner, and the optional
// metrics endpoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"finflow/internal/config"
	"finflow/internal/eventbus"
	"finflow/internal/metrics"
	"finflow/internal/pipeline"
	"finflow/internal/runtime/supervisor"
	"finflow/internal/sched"
	"finflow/internal/source"
	"finflow/internal/storage"
	logx "finflow/pkg/logx"
)

const defaultMetricsAddr = "127.0.0.1:9145"

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	sch     *sched.Scheduler
	src     *source.Client
	planner *pipeline.Planner

	col     *metrics.Collector
	metsrv  *http.Server
	schStop time.Duration
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sch := sched.New(schedCfg, log.With(logx.String("comp", "scheduler")), bus)

	col := metrics.NewCollector()

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		sch:     sch,
		col:     col,
	}

	if cfg.Planner.Enabled {
		srcCfg, err := mapSourceConfig(cfg)
		if err != nil {
			return nil, err
		}
		src, err := source.NewClient(srcCfg, log.With(logx.String("comp", "source")))
		if err != nil {
			return nil, err
		}
		plCfg, err := mapPlannerConfig(cfg)
		if err != nil {
			return nil, err
		}
		var ledger pipeline.Ledger
		if store != nil {
			ledger = store
		}
		a.src = src
		a.planner = pipeline.NewPlanner(plCfg, sch, src, ledger,
			log.With(logx.String("comp", "planner")))
	}

	if cfg.Metrics.Enabled {
		addr := strings.TrimSpace(cfg.Metrics.Addr)
		if addr == "" {
			addr = defaultMetricsAddr
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", col.Handler())
		a.metsrv = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return a, nil
}

// Scheduler exposes the scheduler for operational inspection.
func (a *App) Scheduler() *sched.Scheduler { return a.sch }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		// mapping must also succeed so a reload can't commit values Start would reject
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if cfg.Planner.Enabled {
			if _, err := mapSourceConfig(cfg); err != nil {
				return err
			}
			if _, err := mapPlannerConfig(cfg); err != nil {
				return err
			}
		}
		return nil
	})

	a.sch.Start(a.sup.Context())

	// Observer pump: task/health events feed metrics and the run journal.
	events, unsub := a.bus.Subscribe(256)
	a.sup.Go0("events.pump", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.handleEvent(c, e)
			}
		}
	})

	if a.planner != nil {
		if err := a.planner.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	if a.metsrv != nil {
		srv := a.metsrv
		a.sup.Go("metrics.http", func(c context.Context) error {
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			select {
			case <-c.Done():
				shCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = srv.Shutdown(shCtx)
				return nil
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		})
		a.log.Info("metrics endpoint enabled", logx.String("addr", srv.Addr))
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyReload applies what can change live (logging) and flags the rest.
func (a *App) applyReload(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})
		case "scheduler", "planner", "source", "storage", "metrics":
			a.log.Warn("config section changed; restart required for changes to take effect",
				logx.String("section", s))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// handleEvent translates one bus event into metric updates and, for
// terminal attempts, a run journal row.
func (a *App) handleEvent(ctx context.Context, e eventbus.Event) {
	switch e.Type {
	case sched.EventTaskAdded:
		a.col.TaskAdded()
	case sched.EventTaskCancelled:
		a.col.TaskCancelled()
	case sched.EventTaskCompleted, sched.EventTaskFailed, sched.EventTaskRetry:
		te, ok := e.Data.(sched.TaskEvent)
		if !ok {
			return
		}
		secs := te.Duration.Seconds()
		switch e.Type {
		case sched.EventTaskCompleted:
			a.col.TaskCompleted(secs)
		case sched.EventTaskFailed:
			a.col.TaskFailed(secs)
		case sched.EventTaskRetry:
			a.col.TaskRetried(secs)
		}
		a.journal(ctx, e.Time, te)
	case sched.EventHealth:
		h, ok := e.Data.(sched.Health)
		if !ok {
			return
		}
		a.col.SetHealth(h.State, h.QueueDepth, h.ActiveTasks, len(h.LongRunning))
	}
}

func (a *App) journal(ctx context.Context, at time.Time, te sched.TaskEvent) {
	if a.store == nil {
		return
	}
	rec := storage.RunRecord{
		At:       at,
		Task:     te.Name,
		Status:   string(te.Status),
		Attempt:  te.Attempt,
		Priority: te.Priority,
		OK:       te.Status == sched.StatusCompleted,
		Error:    te.Error,
		TookMS:   te.Duration.Milliseconds(),
	}
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.store.AppendRun(wctx, rec); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Warn("run journal append failed", logx.String("task", te.Name), logx.Err(err))
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Planner first so no new tasks land in a draining scheduler.
	step(a, "planner", 6*time.Second, ctx, func(context.Context) error {
		if a.planner != nil {
			a.planner.Stop()
		}
		return nil
	})

	stopTimeout := 30 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < stopTimeout {
			stopTimeout = rem
		}
	}
	step(a, "scheduler", stopTimeout+2*time.Second, ctx, func(context.Context) error {
		a.sch.Stop(stopTimeout)
		return nil
	})

	// Unwind supervised goroutines (event pump, config watch, metrics server).
	a.sup.Cancel()
	step(a, "supervisor", 3*time.Second, ctx, func(c context.Context) error {
		return a.sup.Wait(c)
	})

	step(a, "storage", 1*time.Second, ctx, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// step runs one shutdown action with an upper bound so a single component
// cannot stall the whole stop.
func step(a *App, name string, max time.Duration, ctx context.Context, fn func(context.Context) error) {
	start := time.Now()

	stepCtx := ctx
	var cancel context.CancelFunc
	if max > 0 {
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem > 0 && rem < max {
				max = rem
			}
		}
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
