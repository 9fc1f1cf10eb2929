package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"finflow/internal/eventbus"
	"finflow/internal/metrics"
	"finflow/internal/sched"
	logx "finflow/pkg/logx"
)

func newTestApp() *App {
	return &App{col: metrics.NewCollector(), log: logx.Nop()}
}

func TestHandleEventHealthFeedsGauges(t *testing.T) {
	t.Parallel()
	a := newTestApp()

	a.handleEvent(context.Background(), eventbus.Event{
		Type: sched.EventHealth,
		Time: time.Now(),
		Data: sched.Health{
			State:       sched.HealthWarning,
			QueueDepth:  7,
			ActiveTasks: 3,
			LongRunning: []string{"collect_balance_C001_2025-01", "collect_voucher_list_C001_2025-01"},
		},
	})

	expected := `
# HELP finflow_long_running_tasks Number of running tasks flagged by the health monitor
# TYPE finflow_long_running_tasks gauge
finflow_long_running_tasks 2
# HELP finflow_queue_depth Current number of entries in the scheduling queue
# TYPE finflow_queue_depth gauge
finflow_queue_depth 7
# HELP finflow_active_tasks Current number of tasks executing on the worker pool
# TYPE finflow_active_tasks gauge
finflow_active_tasks 3
# HELP finflow_health_state Scheduler health: 0 healthy, 1 warning, 2 unhealthy
# TYPE finflow_health_state gauge
finflow_health_state 1
`
	if err := testutil.GatherAndCompare(a.col.Gather(), strings.NewReader(expected),
		"finflow_long_running_tasks", "finflow_queue_depth",
		"finflow_active_tasks", "finflow_health_state"); err != nil {
		t.Fatalf("health sample not reflected in metrics: %v", err)
	}
}

func TestHandleEventTerminalAttemptFeedsCounters(t *testing.T) {
	t.Parallel()
	a := newTestApp()

	a.handleEvent(context.Background(), eventbus.Event{
		Type: sched.EventTaskCompleted,
		Time: time.Now(),
		Data: sched.TaskEvent{Name: "job", Status: sched.StatusCompleted, Attempt: 1, Duration: 250 * time.Millisecond},
	})
	a.handleEvent(context.Background(), eventbus.Event{
		Type: sched.EventTaskFailed,
		Time: time.Now(),
		Data: sched.TaskEvent{Name: "job2", Status: sched.StatusFailed, Attempt: 2, Duration: time.Second},
	})

	expected := `
# HELP finflow_tasks_completed_total Total number of tasks completed successfully
# TYPE finflow_tasks_completed_total counter
finflow_tasks_completed_total 1
# HELP finflow_tasks_failed_total Total number of tasks failed permanently
# TYPE finflow_tasks_failed_total counter
finflow_tasks_failed_total 1
`
	if err := testutil.GatherAndCompare(a.col.Gather(), strings.NewReader(expected),
		"finflow_tasks_completed_total", "finflow_tasks_failed_total"); err != nil {
		t.Fatalf("terminal attempts not counted: %v", err)
	}
}
