package sched

import (
	"context"
	"testing"
	"time"
)

func mkTask(name string, priority int) *Task {
	return newTask(name, func(ctx context.Context) (any, error) { return nil, nil }, priority, 0)
}

func TestQueuePopOrdersByPriorityThenFIFO(t *testing.T) {
	t.Parallel()
	q := newDelayQueue()
	stop := make(chan struct{})
	now := time.Now()

	q.push(mkTask("low-1", 1), now)
	q.push(mkTask("high", 5), now)
	q.push(mkTask("low-2", 1), now)

	want := []string{"high", "low-1", "low-2"}
	for _, name := range want {
		got, ok := q.popDue(stop, 100*time.Millisecond)
		if !ok {
			t.Fatalf("popDue returned no task, want %s", name)
		}
		if got.name != name {
			t.Fatalf("popDue = %s, want %s", got.name, name)
		}
	}
	if q.len() != 0 {
		t.Fatalf("queue len = %d, want 0", q.len())
	}
}

func TestQueueTieBreakPrefersOlderTask(t *testing.T) {
	t.Parallel()
	q := newDelayQueue()
	stop := make(chan struct{})
	now := time.Now()

	// A retried task re-enters the queue after newer arrivals; its earlier
	// creation time must still win the equal-priority tie.
	older := mkTask("older", 1)
	older.createdAt = now.Add(-time.Minute)
	newer := mkTask("newer", 1)

	q.push(newer, now)
	q.push(older, now)

	got, ok := q.popDue(stop, 100*time.Millisecond)
	if !ok || got.name != "older" {
		t.Fatalf("popDue = (%v, %v), want the older task first", got, ok)
	}
	got, ok = q.popDue(stop, 100*time.Millisecond)
	if !ok || got.name != "newer" {
		t.Fatalf("popDue = (%v, %v), want newer second", got, ok)
	}
}

func TestQueueHoldsEntriesUntilDue(t *testing.T) {
	t.Parallel()
	q := newDelayQueue()
	stop := make(chan struct{})

	q.push(mkTask("later", 9), time.Now().Add(80*time.Millisecond))

	if _, ok := q.popDue(stop, 20*time.Millisecond); ok {
		t.Fatal("entry must not be dispatchable before its readiness time")
	}
	got, ok := q.popDue(stop, 500*time.Millisecond)
	if !ok || got.name != "later" {
		t.Fatalf("popDue after delay = (%v, %v), want later", got, ok)
	}
}

func TestQueueDueEntryBeatsEarlierDelayed(t *testing.T) {
	t.Parallel()
	q := newDelayQueue()
	stop := make(chan struct{})
	now := time.Now()

	q.push(mkTask("delayed", 9), now.Add(time.Hour))
	q.push(mkTask("due", 1), now)

	got, ok := q.popDue(stop, 100*time.Millisecond)
	if !ok || got.name != "due" {
		t.Fatal("due entry must dispatch regardless of a higher-priority delayed one")
	}
	if q.len() != 1 {
		t.Fatalf("queue len = %d, want 1 (delayed entry kept)", q.len())
	}
}

func TestQueuePopWakesOnPush(t *testing.T) {
	t.Parallel()
	q := newDelayQueue()
	stop := make(chan struct{})

	done := make(chan string, 1)
	go func() {
		if task, ok := q.popDue(stop, 2*time.Second); ok {
			done <- task.name
		}
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	q.push(mkTask("late-arrival", 0), time.Now())

	select {
	case name := <-done:
		if name != "late-arrival" {
			t.Fatalf("popped %q, want late-arrival", name)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked popDue did not wake on push")
	}
}

func TestQueuePopUnblocksOnStop(t *testing.T) {
	t.Parallel()
	q := newDelayQueue()
	stop := make(chan struct{})

	done := make(chan bool, 1)
	go func() {
		_, ok := q.popDue(stop, 10*time.Second)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	close(stop)

	select {
	case ok := <-done:
		if ok {
			t.Fatal("popDue after stop should report no task")
		}
	case <-time.After(time.Second):
		t.Fatal("popDue did not observe stop")
	}
}

func TestQueueRemove(t *testing.T) {
	t.Parallel()
	q := newDelayQueue()

	a := mkTask("a", 0)
	b := mkTask("b", 0)
	q.push(a, time.Now())
	q.push(b, time.Now().Add(time.Hour))

	if !q.remove(a) || !q.remove(b) {
		t.Fatal("remove should find live entries in both heaps")
	}
	if q.remove(a) {
		t.Fatal("second remove must report false")
	}
	if q.len() != 0 {
		t.Fatalf("queue len = %d, want 0", q.len())
	}
}
