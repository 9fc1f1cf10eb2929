// Package sched is the task-scheduling engine at the core of finflow.
//
// It executes named units of work from a priority-and-time-ordered queue on a
// bounded worker pool, with exponential-backoff retry, cooperative
// cancellation, continuous health sampling and a bounded two-phase graceful
// shutdown. The engine treats each unit of work as an opaque callable: it
// invokes it, measures it and records its outcome, nothing more. What to
// submit and when is the planner's business (internal/pipeline).
//
// Lifecycle events are published on an eventbus.Bus so observers (metrics,
// the run journal) stay decoupled from the dispatch path.
package sched
