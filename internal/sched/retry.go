package sched

import (
	"time"

	logx "finflow/pkg/logx"
)

// backoffCap bounds the retry delay.
const backoffCap = 300 * time.Second

// backoffDelay returns min(2^retry, 300) seconds. retry is the 1-based retry
// number about to be attempted.
func backoffDelay(retry int) time.Duration {
	if retry >= 9 { // 2^9 s already exceeds the cap
		return backoffCap
	}
	d := time.Duration(1<<uint(retry)) * time.Second
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

// handleFailure applies the retry policy to a failed attempt. While the
// retry budget lasts and the scheduler is not shutting down, the task is
// re-enqueued with exponential backoff; otherwise it fails permanently.
// A failure observed during shutdown is never retried, so retry activity
// cannot outlive Stop.
func (s *Scheduler) handleFailure(t *Task, elapsed time.Duration, errMsg string) {
	shuttingDown := s.down.Load()

	t.mu.Lock()
	if t.retryCount < t.maxRetries && !shuttingDown {
		t.retryCount++
		t.status = StatusRetry
		delay := backoffDelay(t.retryCount)
		t.nextRetry = time.Now().Add(delay)
		readyAt := t.nextRetry
		retry := t.retryCount
		maxRetries := t.maxRetries
		t.mu.Unlock()

		s.queue.push(t, readyAt)
		s.log.Info("task scheduled for retry",
			logx.String("task", t.name),
			logx.Int("retry", retry),
			logx.Int("max_retries", maxRetries),
			logx.Duration("delay", delay))
		s.publish(EventTaskRetry, TaskEvent{
			Name: t.name, Status: StatusRetry, Attempt: retry,
			Priority: t.priority, Duration: elapsed,
			NextRetry: readyAt, Error: errMsg,
		})
		return
	}
	t.status = StatusFailed
	retries := t.retryCount
	t.mu.Unlock()

	if shuttingDown {
		s.log.Warn("task failed, no retry due to shutdown", logx.String("task", t.name))
	} else {
		s.log.Error("task failed permanently",
			logx.String("task", t.name),
			logx.Int("retries", retries))
	}
	s.publish(EventTaskFailed, TaskEvent{
		Name: t.name, Status: StatusFailed, Attempt: retries + 1,
		Priority: t.priority, Duration: elapsed, Error: errMsg,
	})
}
