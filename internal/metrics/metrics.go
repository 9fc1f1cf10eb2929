// Package metrics exposes the scheduler's operational counters to
// Prometheus. The collector is fed by the scheduler's event stream (see
// internal/app) and by the periodic health samples; it never reaches into
// scheduler internals.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// Collector holds the finflow metric set on its own registry so tests can
// create collectors freely without tripping duplicate registration.
type Collector struct {
	reg *prometheus.Registry

	tasksAdded     prometheus.Counter
	tasksCompleted prometheus.Counter
	tasksFailed    prometheus.Counter
	tasksRetried   prometheus.Counter
	tasksCancelled prometheus.Counter

	taskDuration prometheus.Histogram

	queueDepth  prometheus.Gauge
	activeTasks prometheus.Gauge
	longRunning prometheus.Gauge
	healthState prometheus.Gauge
}

func NewCollector() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		tasksAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finflow_tasks_added_total",
			Help: "Total number of tasks registered with the scheduler",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finflow_tasks_completed_total",
			Help: "Total number of tasks completed successfully",
		}),
		tasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finflow_tasks_failed_total",
			Help: "Total number of tasks failed permanently",
		}),
		tasksRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finflow_task_retries_total",
			Help: "Total number of retry attempts scheduled",
		}),
		tasksCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finflow_tasks_cancelled_total",
			Help: "Total number of tasks cancelled before execution",
		}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "finflow_task_duration_seconds",
			Help:    "Wall-clock duration of task execution attempts",
			Buckets: prometheus.DefBuckets,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finflow_queue_depth",
			Help: "Current number of entries in the scheduling queue",
		}),
		activeTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finflow_active_tasks",
			Help: "Current number of tasks executing on the worker pool",
		}),
		longRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finflow_long_running_tasks",
			Help: "Number of running tasks flagged by the health monitor",
		}),
		healthState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finflow_health_state",
			Help: "Scheduler health: 0 healthy, 1 warning, 2 unhealthy",
		}),
	}

	c.reg.MustRegister(
		c.tasksAdded, c.tasksCompleted, c.tasksFailed, c.tasksRetried,
		c.tasksCancelled, c.taskDuration, c.queueDepth, c.activeTasks,
		c.longRunning, c.healthState,
	)
	return c
}

func (c *Collector) TaskAdded() { c.tasksAdded.Inc() }

func (c *Collector) TaskCompleted(durationSeconds float64) {
	c.tasksCompleted.Inc()
	c.taskDuration.Observe(durationSeconds)
}

func (c *Collector) TaskFailed(durationSeconds float64) {
	c.tasksFailed.Inc()
	c.taskDuration.Observe(durationSeconds)
}

func (c *Collector) TaskRetried(durationSeconds float64) {
	c.tasksRetried.Inc()
	c.taskDuration.Observe(durationSeconds)
}

func (c *Collector) TaskCancelled() { c.tasksCancelled.Inc() }

// SetHealth records the latest health monitor sample.
func (c *Collector) SetHealth(state string, queueDepth, activeTasks, longRunning int) {
	c.queueDepth.Set(float64(queueDepth))
	c.activeTasks.Set(float64(activeTasks))
	c.longRunning.Set(float64(longRunning))
	switch state {
	case "healthy":
		c.healthState.Set(0)
	case "warning":
		c.healthState.Set(1)
	default:
		c.healthState.Set(2)
	}
}

// Handler serves the collector's registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Gather is a test hook into the underlying registry.
func (c *Collector) Gather() prometheus.Gatherer { return c.reg }
