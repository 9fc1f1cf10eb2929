package sched

import (
	"fmt"
	"time"

	logx "finflow/pkg/logx"
)

// Health states. Warning means the system is operating but degraded (queue
// backlog or long-running tasks); unhealthy means the monitor itself failed
// to sample.
const (
	HealthHealthy   = "healthy"
	HealthWarning   = "warning"
	HealthUnhealthy = "unhealthy"
)

// Health is the monitor's latest summary. LongRunning names tasks that have
// been running past the configured threshold; they are flagged only, never
// forcibly stopped.
type Health struct {
	State       string    `json:"state"`
	LastCheck   time.Time `json:"last_check"`
	StartupTime time.Time `json:"startup_time"`
	QueueDepth  int       `json:"queue_depth"`
	ActiveTasks int       `json:"active_tasks"`
	LongRunning []string  `json:"long_running,omitempty"`
	Error       string    `json:"error,omitempty"`
}

func (h Health) clone() Health {
	cp := h
	cp.LongRunning = append([]string(nil), h.LongRunning...)
	return cp
}

// healthLoop samples on a fixed interval. The sleep is interruptible so a
// sleeping monitor never delays Stop.
func (s *Scheduler) healthLoop(stopCh <-chan struct{}) {
	for {
		s.sampleHealth()

		timer := time.NewTimer(s.cfg.HealthCheckInterval)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// sampleHealth reads (never mutates) scheduler state and stores a summary.
// A sampling error degrades health to unhealthy but never stops the loop.
func (s *Scheduler) sampleHealth() {
	defer func() {
		if r := recover(); r != nil {
			now := time.Now()
			s.hmu.Lock()
			startup := s.health.StartupTime
			s.health = Health{
				State:       HealthUnhealthy,
				LastCheck:   now,
				StartupTime: startup,
				Error:       fmt.Sprintf("health check failed: %v", r),
			}
			s.hmu.Unlock()
			s.log.Error("health check failed", logx.Any("panic", r))
		}
	}()

	now := time.Now()
	depth := s.queue.len()
	active := int(s.active.Load())

	s.mu.Lock()
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	var longRunning []string
	for _, t := range tasks {
		t.mu.Lock()
		if t.status == StatusRunning && !t.lastRun.IsZero() && now.Sub(t.lastRun) > s.cfg.LongRunningAfter {
			longRunning = append(longRunning, t.name)
		}
		t.mu.Unlock()
	}

	state := HealthHealthy
	if depth > s.cfg.QueueHighWater || len(longRunning) > 0 {
		state = HealthWarning
	}

	s.hmu.Lock()
	startup := s.health.StartupTime
	s.health = Health{
		State:       state,
		LastCheck:   now,
		StartupTime: startup,
		QueueDepth:  depth,
		ActiveTasks: active,
		LongRunning: longRunning,
	}
	h := s.health.clone()
	s.hmu.Unlock()

	if state == HealthWarning {
		s.log.Warn("system health warning",
			logx.Int("queue_depth", depth),
			logx.Int("active_tasks", active),
			logx.Strings("long_running", longRunning))
	}
	s.publish(EventHealth, h)
}

// HealthSnapshot returns the monitor's latest summary.
func (s *Scheduler) HealthSnapshot() Health {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return s.health.clone()
}
