package sched

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"finflow/internal/eventbus"
	logx "finflow/pkg/logx"
)

// DefaultMaxRetries is the retry budget applied by Submit.
const DefaultMaxRetries = 3

// Config controls the scheduling engine.
type Config struct {
	// MaxWorkers bounds concurrent task executions. Default 5.
	MaxWorkers int
	// HealthCheckInterval is the monitor sampling period. Default 60s.
	HealthCheckInterval time.Duration
	// QueueHighWater is the queue depth above which health degrades to
	// warning. Default 100.
	QueueHighWater int
	// LongRunningAfter flags running tasks older than this. Default 5m.
	// Flagged tasks are never forcibly stopped.
	LongRunningAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 5
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 60 * time.Second
	}
	if c.QueueHighWater <= 0 {
		c.QueueHighWater = 100
	}
	if c.LongRunningAfter <= 0 {
		c.LongRunningAfter = 5 * time.Minute
	}
	return c
}

// Scheduler owns the task registry, the scheduling queue, the worker pool and
// the health monitor. Construct with New; callers hold and pass the reference
// (there is no package-level instance).
//
// Locking: mu is the coarse registry lock and guards only short sections
// (lookup/insert/delete and lifecycle flags). Each task guards its own
// mutable fields. mu may wrap a brief task-lock section during aggregation,
// never a blocking call; task locks are never held while acquiring mu.
type Scheduler struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	queue  *delayQueue
	active atomic.Int64
	down   atomic.Bool // set when Stop begins; suppresses retries

	mu      sync.Mutex
	tasks   map[string]*Task
	results map[string]*Result
	running bool
	stopCh  chan struct{}
	wg      *sync.WaitGroup
	cancel  context.CancelFunc

	hmu    sync.Mutex
	health Health
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Scheduler {
	return &Scheduler{
		cfg:     cfg.withDefaults(),
		log:     log,
		bus:     bus,
		queue:   newDelayQueue(),
		tasks:   map[string]*Task{},
		results: map[string]*Result{},
	}
}

// AddTask registers a new task and enqueues it for immediate dispatch.
// It returns false, with no side effect, when the name is already taken.
// Tasks may be added before Start; they dispatch once the scheduler runs.
func (s *Scheduler) AddTask(name string, fn Func, priority, maxRetries int) bool {
	if fn == nil {
		s.log.Warn("rejecting task with nil work", logx.String("task", name))
		return false
	}
	t := newTask(name, fn, priority, maxRetries)

	s.mu.Lock()
	if _, exists := s.tasks[name]; exists {
		s.mu.Unlock()
		s.log.Warn("task already exists, skipping", logx.String("task", name))
		return false
	}
	s.tasks[name] = t
	s.mu.Unlock()

	s.queue.push(t, time.Now())
	s.log.Info("task added",
		logx.String("task", name),
		logx.Int("priority", priority),
		logx.Int("max_retries", t.maxRetries))
	s.publish(EventTaskAdded, TaskEvent{Name: name, Status: StatusPending, Priority: priority})
	return true
}

// Submit registers a task with default priority and retry budget.
func (s *Scheduler) Submit(name string, fn Func) bool {
	return s.AddTask(name, fn, 0, DefaultMaxRetries)
}

// CancelTask cancels a task that has not begun executing. A running task is
// never interrupted; the call reports false for running, terminal, or
// unknown tasks. Cancelled queue entries are discarded at dispatch time.
func (s *Scheduler) CancelTask(name string) bool {
	s.mu.Lock()
	t := s.tasks[name]
	s.mu.Unlock()
	if t == nil {
		s.log.Warn("cannot cancel unknown task", logx.String("task", name))
		return false
	}

	t.mu.Lock()
	if t.status != StatusPending && t.status != StatusRetry {
		st := t.status
		t.mu.Unlock()
		s.log.Warn("cannot cancel task",
			logx.String("task", name), logx.String("status", string(st)))
		return false
	}
	t.status = StatusCancelled
	t.mu.Unlock()

	s.log.Info("task cancelled", logx.String("task", name))
	s.publish(EventTaskCancelled, TaskEvent{Name: name, Status: StatusCancelled, Priority: t.priority})
	return true
}

// TaskStatus returns a snapshot of one task, including its latest result.
func (s *Scheduler) TaskStatus(name string) (TaskView, bool) {
	s.mu.Lock()
	t := s.tasks[name]
	var res *Result
	if r, ok := s.results[name]; ok {
		cp := *r
		res = &cp
	}
	s.mu.Unlock()
	if t == nil {
		return TaskView{}, false
	}
	return t.view(res), true
}

// StatusCounts aggregates registry membership by status.
type StatusCounts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Retry     int `json:"retry"`
	Cancelled int `json:"cancelled"`
}

// SystemStatus is the aggregate view returned by Scheduler.SystemStatus.
type SystemStatus struct {
	Running     bool         `json:"running"`
	Health      Health       `json:"health"`
	Tasks       StatusCounts `json:"tasks"`
	QueueDepth  int          `json:"queue_depth"`
	MaxWorkers  int          `json:"max_workers"`
	ActiveTasks int          `json:"active_tasks"`
}

func (s *Scheduler) SystemStatus() SystemStatus {
	s.mu.Lock()
	running := s.running
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	var counts StatusCounts
	counts.Total = len(tasks)
	for _, t := range tasks {
		switch t.Status() {
		case StatusPending:
			counts.Pending++
		case StatusRunning:
			counts.Running++
		case StatusCompleted:
			counts.Completed++
		case StatusFailed:
			counts.Failed++
		case StatusRetry:
			counts.Retry++
		case StatusCancelled:
			counts.Cancelled++
		}
	}

	s.hmu.Lock()
	health := s.health.clone()
	s.hmu.Unlock()

	return SystemStatus{
		Running:     running,
		Health:      health,
		Tasks:       counts,
		QueueDepth:  s.queue.len(),
		MaxWorkers:  s.cfg.MaxWorkers,
		ActiveTasks: int(s.active.Load()),
	}
}

// ClearCompleted removes terminal tasks whose last run concluded before the
// cutoff, together with their stored results, and reports how many were
// removed. Tasks that never ran (e.g. cancelled while pending) keep a zero
// last-run time and are retained.
func (s *Scheduler) ClearCompleted(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	s.mu.Lock()
	var removed []*Task
	for name, t := range s.tasks {
		t.mu.Lock()
		stale := t.status.Terminal() && !t.lastRun.IsZero() && t.lastRun.Before(cutoff)
		t.mu.Unlock()
		if stale {
			removed = append(removed, t)
			delete(s.tasks, name)
			delete(s.results, name)
		}
	}
	s.mu.Unlock()

	// A cancelled task may still hold a queue entry that was never popped.
	for _, t := range removed {
		s.queue.remove(t)
	}

	if len(removed) > 0 {
		s.log.Info("cleared completed tasks",
			logx.Int("count", len(removed)), logx.Duration("older_than", olderThan))
	}
	return len(removed)
}

// Start launches the dispatcher, the worker pool and the health monitor.
// Calling Start on a running scheduler is a logged no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("scheduler already running")
		return
	}
	s.running = true
	s.down.Store(false)
	s.stopCh = make(chan struct{})
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	wg := &sync.WaitGroup{}
	s.wg = wg
	stopCh := s.stopCh
	s.mu.Unlock()

	s.hmu.Lock()
	s.health = Health{State: HealthHealthy, LastCheck: time.Now(), StartupTime: time.Now()}
	s.hmu.Unlock()

	workCh := make(chan *Task)

	wg.Add(1)
	go s.guarded(wg, "dispatcher", func() { s.dispatchLoop(stopCh, workCh) })

	for i := 0; i < s.cfg.MaxWorkers; i++ {
		idx := i
		wg.Add(1)
		go s.guarded(wg, "worker", func() { s.workerLoop(runCtx, idx, stopCh, workCh) })
	}

	wg.Add(1)
	go s.guarded(wg, "health-monitor", func() { s.healthLoop(stopCh) })

	s.log.Info("scheduler started",
		logx.Int("workers", s.cfg.MaxWorkers),
		logx.Duration("health_interval", s.cfg.HealthCheckInterval))
}

// Stop executes the bounded drain protocol and always returns once the
// budget elapses: half the timeout waiting for in-flight work, half waiting
// for the queue, then a forced pool shutdown. Failures observed after Stop
// begins are terminal (no retries). The scheduler is "not running" on return
// even if some work never completed.
func (s *Scheduler) Stop(timeout time.Duration) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.log.Warn("scheduler is not running")
		return
	}
	s.running = false
	stopCh := s.stopCh
	cancel := s.cancel
	wg := s.wg
	s.cancel = nil
	s.mu.Unlock()

	start := time.Now()
	s.log.Info("stopping scheduler", logx.Duration("timeout", timeout))

	// Raise the shutdown signal: no new dispatches, no new retries.
	s.down.Store(true)
	close(stopCh)

	half := timeout / 2
	drained := waitFor(half, func() bool { return s.active.Load() == 0 })
	if !drained {
		s.log.Warn("active tasks did not drain in time",
			logx.Int64("active", s.active.Load()))
	}
	if !waitFor(half, func() bool { return s.queue.len() == 0 }) {
		s.log.Warn("queue did not drain in time", logx.Int("queue_depth", s.queue.len()))
	}

	// Force pool shutdown: cancel the work context and wait briefly for the
	// goroutines to return. A work callable that ignores its context keeps
	// its goroutine; Stop does not wait for it.
	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
	case <-time.After(time.Second):
		s.log.Warn("scheduler stopped with work still in flight",
			logx.Duration("took", time.Since(start)))
	}
}

// Running reports whether Start has been called without a matching Stop.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// guarded runs fn with panic recovery so a bug in one loop never takes down
// the process.
func (s *Scheduler) guarded(wg *sync.WaitGroup, name string, fn func()) {
	defer wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in scheduler goroutine",
				logx.String("goroutine", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	s.log.Debug("goroutine started", logx.String("goroutine", name))
	fn()
	s.log.Debug("goroutine stopped", logx.String("goroutine", name))
}

// waitFor polls cond until it holds or the budget elapses.
func waitFor(budget time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(budget)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
}
