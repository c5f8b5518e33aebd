package core

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// PanicHandler: recovers and reports task panics
// =============================================================================

// PanicHandler is invoked whenever a task's executable panics while running
// on a worker or on an executor's drain goroutine. Implementations must be
// safe for concurrent use.
type PanicHandler interface {
	// HandlePanic is called with the context the task ran in, the name of
	// the executor or worker it ran on, the recovered panic value and a
	// captured stack trace.
	HandlePanic(ctx context.Context, runnerName string, taskID TaskID, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler prints panic information to stdout.
type DefaultPanicHandler struct{}

func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, runnerName string, taskID TaskID, panicInfo any, stackTrace []byte) {
	fmt.Printf("[%s task=%s] panic: %v\n%s\n", runnerName, taskID, panicInfo, stackTrace)
}

// =============================================================================
// Metrics: observability sink for suppliers, executors and tasks
// =============================================================================

// Metrics collects execution and saturation signals. Every method must be
// non-blocking and safe to call from many goroutines at once; a slow or
// panicking Metrics implementation would otherwise stall the drain loop or
// a worker.
type Metrics interface {
	// RecordTaskDuration records how long a task ran on the named executor.
	RecordTaskDuration(runnerName string, priority TaskPriority, duration time.Duration)

	// RecordTaskPanic records a recovered task panic.
	RecordTaskPanic(runnerName string, panicInfo any)

	// RecordTaskRejected records an executor refusing a task because it
	// is terminated. A double submit is rejected by Task.Submit before it
	// reaches the executor and is not recorded here.
	RecordTaskRejected(runnerName string, reason string)

	// RecordQueueDepth records the current length of an executor's queue.
	RecordQueueDepth(runnerName string, depth int)

	// RecordInFlightCount records the number of async/pure-async tasks
	// currently running for an executor.
	RecordInFlightCount(runnerName string, count int)

	// RecordSupplierCounts records a Thread Supplier's point-in-time
	// worker counts.
	RecordSupplierCounts(supplierName string, running, poolable, detached, maxTotal int)
}

// NilMetrics discards everything. It is the default when no Metrics is
// configured.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(runnerName string, priority TaskPriority, duration time.Duration) {
}
func (m *NilMetrics) RecordTaskPanic(runnerName string, panicInfo any)       {}
func (m *NilMetrics) RecordTaskRejected(runnerName string, reason string)    {}
func (m *NilMetrics) RecordQueueDepth(runnerName string, depth int)          {}
func (m *NilMetrics) RecordInFlightCount(runnerName string, count int)      {}
func (m *NilMetrics) RecordSupplierCounts(supplierName string, running, poolable, detached, maxTotal int) {
}

// =============================================================================
// RejectedTaskHandler: notified when admission fails
// =============================================================================

// RejectedTaskHandler is called whenever an executor refuses to admit a
// task, which happens when the task is submitted after the executor has
// been shut down. A double submit is rejected by Task.Submit itself and a
// once-only collision is admitted as a no-op; neither reaches this
// handler.
type RejectedTaskHandler interface {
	HandleRejectedTask(runnerName string, taskID TaskID, reason string)
}

// DefaultRejectedTaskHandler logs rejected tasks to stdout.
type DefaultRejectedTaskHandler struct{}

func (h *DefaultRejectedTaskHandler) HandleRejectedTask(runnerName string, taskID TaskID, reason string) {
	fmt.Printf("[%s] task %s rejected: %s\n", runnerName, taskID, reason)
}

// =============================================================================
// Collaborator bundle shared by executors, the supplier and the group
// =============================================================================

// Collaborators holds the pluggable external dependencies every component
// in this package accepts. All fields are optional; zero-value Collaborators
// resolves to no-op defaults via WithDefaults.
type Collaborators struct {
	Logger               Logger
	PanicHandler         PanicHandler
	Metrics              Metrics
	RejectedTaskHandler  RejectedTaskHandler
}

// WithDefaults fills any unset field with its no-op/default implementation.
func (c Collaborators) WithDefaults() Collaborators {
	if c.Logger == nil {
		c.Logger = NewNoOpLogger()
	}
	if c.PanicHandler == nil {
		c.PanicHandler = &DefaultPanicHandler{}
	}
	if c.Metrics == nil {
		c.Metrics = &NilMetrics{}
	}
	if c.RejectedTaskHandler == nil {
		c.RejectedTaskHandler = &DefaultRejectedTaskHandler{}
	}
	return c
}
