package sched

import (
	"context"
	"sync"
	"time"
)

// Status is a task's position in its lifecycle.
//
// Transitions:
//
//	pending --(dispatched)--> running
//	running --(ok)----------> completed   [terminal]
//	running --(err, budget)-> retry
//	running --(err, spent)--> failed      [terminal]
//	retry   --(due, popped)-> running
//	pending/retry --(cancel)-> cancelled  [terminal]
//
// A running task is never cancelled; cancellation is cooperative only.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRetry     Status = "retry"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a task in this status will never run again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Func is a unit of work. The scheduler never inspects the payload; it only
// invokes the function and records the outcome. The context is cancelled when
// the scheduler is forcibly shut down; honoring it is optional (cooperative).
type Func func(ctx context.Context) (any, error)

// Result is the immutable outcome of one execution attempt. Only the latest
// result per task is retained.
type Result struct {
	Success       bool          `json:"success"`
	Data          any           `json:"data,omitempty"`
	Error         string        `json:"error,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Task is a named, schedulable unit of work.
//
// name, fn, priority, maxRetries and createdAt are immutable after creation.
// The remaining fields are guarded by mu.
//
// Lock ordering: a task's mu may be taken while holding the scheduler's
// registry lock only for short, non-blocking sections (status reads during
// aggregation). Never the reverse, and never across a blocking call.
type Task struct {
	name       string
	fn         Func
	priority   int
	maxRetries int
	createdAt  time.Time

	mu         sync.Mutex
	status     Status
	retryCount int
	lastRun    time.Time
	nextRetry  time.Time
}

func newTask(name string, fn Func, priority, maxRetries int) *Task {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Task{
		name:       name,
		fn:         fn,
		priority:   priority,
		maxRetries: maxRetries,
		createdAt:  time.Now(),
		status:     StatusPending,
	}
}

func (t *Task) Name() string         { return t.name }
func (t *Task) Priority() int        { return t.priority }
func (t *Task) MaxRetries() int      { return t.maxRetries }
func (t *Task) CreatedAt() time.Time { return t.createdAt }

func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// beginRun marks the task running and returns the attempt number (1-based).
// It refuses tasks that reached a terminal status after being queued (a
// cancellation can land while the entry waits for a free worker), so a
// cancelled task is never executed.
func (t *Task) beginRun(now time.Time) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return 0, false
	}
	t.status = StatusRunning
	t.lastRun = now
	return t.retryCount + 1, true
}

func (t *Task) setStatus(s Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

// TaskView is a point-in-time snapshot of a task, safe to hand to callers.
type TaskView struct {
	Name       string    `json:"name"`
	Status     Status    `json:"status"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`
	Priority   int       `json:"priority"`
	CreatedAt  time.Time `json:"created_at"`
	LastRun    time.Time `json:"last_run,omitzero"`
	NextRetry  time.Time `json:"next_retry,omitzero"`
	Result     *Result   `json:"result,omitempty"`
}

func (t *Task) view(res *Result) TaskView {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TaskView{
		Name:       t.name,
		Status:     t.status,
		RetryCount: t.retryCount,
		MaxRetries: t.maxRetries,
		Priority:   t.priority,
		CreatedAt:  t.createdAt,
		LastRun:    t.lastRun,
		NextRetry:  t.nextRetry,
		Result:     res,
	}
}
