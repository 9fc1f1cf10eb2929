package sched

import (
	"time"

	"finflow/internal/eventbus"
)

// Event types published on the bus. Observers (metrics, run journal) key off
// these; the scheduler itself never depends on anyone listening.
const (
	EventTaskAdded     = "task.added"
	EventTaskStarted   = "task.started"
	EventTaskCompleted = "task.completed"
	EventTaskRetry     = "task.retry"
	EventTaskFailed    = "task.failed"
	EventTaskCancelled = "task.cancelled"
	EventHealth        = "sched.health"
)

// TaskEvent is the Data payload for all task.* events.
//
// Attempt is 1-based for started/completed/failed; for retry events it is the
// retry number just scheduled (equals the task's retry_count).
type TaskEvent struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Attempt   int           `json:"attempt"`
	Priority  int           `json:"priority"`
	Duration  time.Duration `json:"duration,omitempty"`
	NextRetry time.Time     `json:"next_retry,omitzero"`
	Error     string        `json:"error,omitempty"`
}

func (s *Scheduler) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}
