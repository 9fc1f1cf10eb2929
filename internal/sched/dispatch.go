package sched

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "finflow/pkg/logx"
)

// popWait bounds how long the dispatcher blocks on an empty queue before
// re-checking the shutdown signal.
const popWait = time.Second

// dispatchLoop pulls due entries off the queue and hands them to the worker
// pool. Cancelled entries are discarded here rather than executed.
func (s *Scheduler) dispatchLoop(stopCh <-chan struct{}, workCh chan<- *Task) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		t, ok := s.queue.popDue(stopCh, popWait)
		if !ok {
			continue
		}
		if t.Status() == StatusCancelled {
			s.log.Debug("discarding cancelled queue entry", logx.String("task", t.name))
			continue
		}

		select {
		case workCh <- t:
		case <-stopCh:
			// Not dispatched; leave the entry live so the registry and the
			// queue stay in agreement about the task.
			s.queue.push(t, time.Now())
			return
		}
	}
}

func (s *Scheduler) workerLoop(ctx context.Context, idx int, stopCh <-chan struct{}, workCh <-chan *Task) {
	_ = idx
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-stopCh:
			return
		default:
		}

		select {
		case <-stopCh:
			return
		case t := <-workCh:
			s.execute(ctx, t)
		}
	}
}

// execute runs one attempt and routes the outcome: success finalizes the
// task, failure goes to the retry policy.
func (s *Scheduler) execute(ctx context.Context, t *Task) {
	start := time.Now()
	attempt, ok := t.beginRun(start)
	if !ok {
		// Cancelled between pop and hand-off.
		s.log.Debug("discarding cancelled task at execution", logx.String("task", t.name))
		return
	}
	s.active.Add(1)
	s.publish(EventTaskStarted, TaskEvent{
		Name: t.name, Status: StatusRunning, Attempt: attempt, Priority: t.priority,
	})

	data, err := s.invoke(ctx, t)
	elapsed := time.Since(start)
	s.active.Add(-1)

	res := Result{
		Success:       err == nil,
		Data:          data,
		ExecutionTime: elapsed,
		Timestamp:     time.Now(),
	}
	if err != nil {
		res.Error = err.Error()
	}
	s.mu.Lock()
	s.results[t.name] = &res
	s.mu.Unlock()

	if err == nil {
		t.setStatus(StatusCompleted)
		s.log.Info("task completed",
			logx.String("task", t.name),
			logx.Duration("dur", elapsed),
			logx.Int("attempt", attempt))
		s.publish(EventTaskCompleted, TaskEvent{
			Name: t.name, Status: StatusCompleted, Attempt: attempt,
			Priority: t.priority, Duration: elapsed,
		})
		return
	}

	s.log.Warn("task attempt failed",
		logx.String("task", t.name),
		logx.Err(err),
		logx.Duration("dur", elapsed),
		logx.Int("attempt", attempt))
	s.handleFailure(t, elapsed, res.Error)
}

// invoke runs the work callable behind a panic guard so a misbehaving
// callable surfaces as an ordinary failed attempt instead of killing a
// worker.
func (s *Scheduler) invoke(ctx context.Context, t *Task) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			s.log.Error("panic in task",
				logx.String("task", t.name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	return t.fn(ctx)
}
