package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounters(t *testing.T) {
	t.Parallel()
	c := NewCollector()

	c.TaskAdded()
	c.TaskAdded()
	c.TaskCompleted(0.5)
	c.TaskFailed(1.5)
	c.TaskRetried(0.1)
	c.TaskCancelled()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.tasksAdded))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksCompleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksRetried))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksCancelled))

	// Every terminal attempt lands in the duration histogram.
	count, err := testutil.GatherAndCount(c.reg, "finflow_task_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSetHealthStates(t *testing.T) {
	t.Parallel()
	c := NewCollector()

	c.SetHealth("healthy", 4, 2, 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.healthState))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.queueDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.activeTasks))

	c.SetHealth("warning", 120, 5, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.healthState))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.longRunning))

	c.SetHealth("unhealthy", 0, 0, 0)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.healthState))

	// Unknown states are treated as unhealthy.
	c.SetHealth("???", 0, 0, 0)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.healthState))
}

func TestHandlerServesRegistry(t *testing.T) {
	t.Parallel()
	c := NewCollector()
	c.TaskAdded()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "finflow_tasks_added_total 1"), "exposition missing counter:\n%s", body)
}
