package sched

import (
	"container/heap"
	"sync"
	"time"
)

// entry associates a task with the earliest instant it may be dispatched.
// The scheduler owns exactly one live entry per non-terminal task.
type entry struct {
	task    *Task
	readyAt time.Time
	seq     uint64
}

// delayQueue is a thread-safe two-level priority queue.
//
// Entries whose readiness time has not arrived sit in a min-heap keyed by
// readyAt. Once due they migrate to a second heap keyed by task priority
// (higher first) with task creation time breaking ties, so among
// simultaneously ready tasks priority wins and equal-priority tasks
// dispatch oldest first.
//
// popDue blocks until the earliest entry is due instead of polling, so
// not-yet-due retries never spin the CPU.
type delayQueue struct {
	mu      sync.Mutex
	pending timeHeap  // not yet due, by readyAt
	ready   readyHeap // due, by priority then push order
	seq     uint64

	// wake is signaled on push so a blocked popDue re-evaluates the head
	// (a new entry may be due earlier than the one it is waiting on).
	wake chan struct{}
}

func newDelayQueue() *delayQueue {
	return &delayQueue{wake: make(chan struct{}, 1)}
}

func (q *delayQueue) push(t *Task, readyAt time.Time) {
	q.mu.Lock()
	q.seq++
	e := &entry{task: t, readyAt: readyAt, seq: q.seq}
	if readyAt.After(time.Now()) {
		heap.Push(&q.pending, e)
	} else {
		heap.Push(&q.ready, e)
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// promoteLocked moves every entry that has become due into the ready heap.
func (q *delayQueue) promoteLocked(now time.Time) {
	for len(q.pending) > 0 && !q.pending[0].readyAt.After(now) {
		e := heap.Pop(&q.pending).(*entry)
		heap.Push(&q.ready, e)
	}
}

// popDue returns the highest-priority due task, waiting until the earliest
// pending entry becomes due, a new entry arrives, stopCh closes, or maxWait
// elapses. The bounded wait keeps the dispatcher responsive to shutdown even
// on an empty queue.
func (q *delayQueue) popDue(stopCh <-chan struct{}, maxWait time.Duration) (*Task, bool) {
	deadline := time.Now().Add(maxWait)
	for {
		q.mu.Lock()
		now := time.Now()
		q.promoteLocked(now)
		if len(q.ready) > 0 {
			e := heap.Pop(&q.ready).(*entry)
			q.mu.Unlock()
			return e.task, true
		}
		wait := maxWait
		if len(q.pending) > 0 {
			wait = q.pending[0].readyAt.Sub(now)
		}
		q.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-stopCh:
			timer.Stop()
			return nil, false
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *delayQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.ready)
}

// remove drops the live entry for the given task, if any. Used when a task is
// deleted from the registry so the queue cannot resurrect it.
func (q *delayQueue) remove(t *Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.pending {
		if e.task == t {
			heap.Remove(&q.pending, i)
			return true
		}
	}
	for i, e := range q.ready {
		if e.task == t {
			heap.Remove(&q.ready, i)
			return true
		}
	}
	return false
}

// timeHeap orders entries by readiness time; ties keep push order.
type timeHeap []*entry

func (h timeHeap) Len() int { return len(h) }

func (h timeHeap) Less(i, j int) bool {
	if !h[i].readyAt.Equal(h[j].readyAt) {
		return h[i].readyAt.Before(h[j].readyAt)
	}
	return h[i].seq < h[j].seq
}

func (h timeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *timeHeap) Push(x any)   { *h = append(*h, x.(*entry)) }

func (h *timeHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// readyHeap orders due entries by priority (higher first); ties go to the
// oldest task by creation time, then push order, so a retried task resumes
// its original place among equal-priority peers and nothing starves.
type readyHeap []*entry

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	if h[i].task.priority != h[j].task.priority {
		return h[i].task.priority > h[j].task.priority
	}
	if !h[i].task.createdAt.Equal(h[j].task.createdAt) {
		return h[i].task.createdAt.Before(h[j].task.createdAt)
	}
	return h[i].seq < h[j].seq
}

func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x any)   { *h = append(*h, x.(*entry)) }

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
