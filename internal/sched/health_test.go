package sched

import (
	"context"
	"testing"
	"time"

	"finflow/internal/eventbus"
	logx "finflow/pkg/logx"
)

func TestHealthWarnsOnQueueBacklog(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(Config{QueueHighWater: 2})

	for _, name := range []string{"a", "b", "c"} {
		s.AddTask(name, func(ctx context.Context) (any, error) { return nil, nil }, 0, 0)
	}
	s.sampleHealth()

	h := s.HealthSnapshot()
	if h.State != HealthWarning {
		t.Fatalf("state = %s, want warning", h.State)
	}
	if h.QueueDepth != 3 {
		t.Fatalf("queue depth = %d, want 3", h.QueueDepth)
	}
}

func TestHealthFlagsLongRunningWithoutStopping(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(Config{LongRunningAfter: 50 * time.Millisecond})

	tk := mkTask("slow", 0)
	tk.mu.Lock()
	tk.status = StatusRunning
	tk.lastRun = time.Now().Add(-time.Second)
	tk.mu.Unlock()
	s.mu.Lock()
	s.tasks["slow"] = tk
	s.mu.Unlock()

	s.sampleHealth()

	h := s.HealthSnapshot()
	if h.State != HealthWarning {
		t.Fatalf("state = %s, want warning", h.State)
	}
	if len(h.LongRunning) != 1 || h.LongRunning[0] != "slow" {
		t.Fatalf("long running = %v, want [slow]", h.LongRunning)
	}
	if tk.Status() != StatusRunning {
		t.Fatal("long-running task must not be stopped")
	}
}

func TestHealthHealthyWhenIdle(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(Config{})
	s.sampleHealth()
	if h := s.HealthSnapshot(); h.State != HealthHealthy {
		t.Fatalf("state = %s, want healthy", h.State)
	}
}

func TestTaskEventsReachSubscribers(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(64)
	defer unsub()

	s := New(Config{MaxWorkers: 1}, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(2 * time.Second)

	s.Submit("observed", func(ctx context.Context) (any, error) { return nil, nil })
	waitStatus(t, s, "observed", StatusCompleted, 3*time.Second)

	seen := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for !(seen[EventTaskAdded] && seen[EventTaskStarted] && seen[EventTaskCompleted]) {
		select {
		case e := <-ch:
			seen[e.Type] = true
			if e.Type == EventTaskCompleted {
				te, ok := e.Data.(TaskEvent)
				if !ok {
					t.Fatalf("completed payload type %T", e.Data)
				}
				if te.Name != "observed" || te.Attempt != 1 {
					t.Fatalf("unexpected payload %+v", te)
				}
			}
		case <-deadline:
			t.Fatalf("missing events, saw %v", seen)
		}
	}
}
