// Package taskcore provides a priority-aware, pool-backed task execution
// core: a hybrid worker pool (Thread Supplier) feeding three per-priority
// FIFO queues (Queued Task Executor), fanned out behind a single
// submission surface (Executor Group).
//
// # Quick Start
//
// Create a group and submit work at a priority:
//
//	group := taskcore.NewExecutorGroup(taskcore.GroupConfig{Name: "jobs"}, nil, taskcore.Collaborators{})
//	defer group.ShutDown(true)
//
//	task := group.CreateTask(func(ctx context.Context) error {
//		// runs on the normal-priority tier
//		return nil
//	}, taskcore.PriorityNormal)
//	task.Async()
//	if err := task.Submit(); err != nil {
//		// double submit or submit-after-shutdown
//	}
//
// A Producer task returns a typed result:
//
//	result := taskcore.CreateGroupProducerTask(group, func(ctx context.Context) (int, error) {
//		return 42, nil
//	}, taskcore.PriorityHigh)
//	result.Submit()
//	v, err := result.Join(context.Background())
//
// # Key Concepts
//
// ThreadSupplier: a hybrid pool of reusable "poolable" workers and
// elastically bounded "detached" workers, with adaptive growth under
// contention and gradual decay back to steady state.
//
// QueuedTaskExecutor: one per priority tier, single-threaded drain,
// cooperative suspension, priority escalation, and at-most-once task
// de-duplication via RunOnlyOnce.
//
// ExecutorGroup: the fixed fan-out of Low/Normal/High executors that
// callers submit against; it forwards cross-priority mutations and
// coordinates group-wide wait/shutdown.
//
// # Execution modes
//
// Sync tasks run inline on the drain goroutine. Async tasks are queued,
// then dispatched to a dedicated worker once drained. PureAsync tasks
// skip the queue entirely and are dispatched at admission time.
//
// # Thread safety
//
// Every exported type in this package is safe for concurrent use.
// WaitForFinish refuses to block when called from within a task's own
// worker, preventing a task from deadlocking on itself.
package taskcore
