package core

import (
	"context"
	"sync"
)

// ExecutorGroup fans a single submission surface out across exactly three
// QueuedTaskExecutors, one per TaskPriority tier, and is the primary
// external surface callers use: it forwards cross-priority moves
// (ChangeTaskPriority) for tasks it created, and coordinates group-wide
// wait/shutdown. Mode changes (Async/PureAsync/Sync) are not forwarded
// through the group: the executor reads a queued task's mode when it
// dequeues it, so calling PureAsync on a task already in a queue does not
// dispatch it ahead of FIFO order.
type ExecutorGroup struct {
	name     string
	supplier *ThreadSupplier
	collab   Collaborators

	executors map[TaskPriority]*QueuedTaskExecutor

	mu            sync.Mutex
	trackCreation bool
}

// GroupConfig configures an ExecutorGroup's three underlying executors.
type GroupConfig struct {
	Name          string
	Daemon        bool
	Undestroyable bool
	TrackCreation bool
	HistorySize   int
}

// NewExecutorGroup creates a group with its own Thread Supplier built from
// supplierCfg (or the autodetected default, if nil; its Daemon flag is
// overwritten with cfg.Daemon) and exactly three QueuedTaskExecutors, one
// per priority tier.
func NewExecutorGroup(cfg GroupConfig, supplierCfg *SupplierConfig, collab Collaborators) *ExecutorGroup {
	collab = collab.WithDefaults()
	if supplierCfg == nil {
		supplierCfg = DefaultSupplierConfig(cfg.Name)
	}
	supplierCfg.Daemon = cfg.Daemon

	supplier := NewThreadSupplier(supplierCfg, collab)

	g := &ExecutorGroup{
		name:          cfg.Name,
		supplier:      supplier,
		collab:        collab,
		executors:     make(map[TaskPriority]*QueuedTaskExecutor, 3),
		trackCreation: cfg.TrackCreation,
	}
	for _, p := range []TaskPriority{PriorityLow, PriorityNormal, PriorityHigh} {
		g.executors[p] = NewQueuedTaskExecutor(ExecutorConfig{
			Name:          cfg.Name + "_" + p.String(),
			Priority:      p,
			TrackCreation: cfg.TrackCreation,
			Undestroyable: cfg.Undestroyable,
			HistorySize:   cfg.HistorySize,
		}, supplier, collab)
	}
	return g
}

// executorFor clamps p to its nearest legal tier and returns the owning
// executor.
func (g *ExecutorGroup) executorFor(p TaskPriority) *QueuedTaskExecutor {
	return g.executors[ClampPriority(p)]
}

// CreateTask builds a RunnableTask admitted through the executor for
// priority p when submitted.
func (g *ExecutorGroup) CreateTask(fn func(ctx context.Context) error, priority TaskPriority) *RunnableTask {
	e := g.executorFor(priority)
	t := e.CreateTask(fn)
	t.ChangePriority(priority)
	return t
}

// CreateGroupProducerTask builds a ProducerTask[T] admitted through the
// executor for priority p when submitted. A package-level function since
// Go methods can't introduce their own type parameter.
func CreateGroupProducerTask[T any](g *ExecutorGroup, fn func(ctx context.Context) (T, error), priority TaskPriority) *ProducerTask[T] {
	e := g.executorFor(priority)
	t := CreateProducerTask[T](e, fn)
	t.ChangePriority(priority)
	return t
}

// ChangeTaskPriority moves t between this group's queues if t is still
// waiting to run, or simply updates its priority field otherwise. This is
// the Group-aware counterpart to Task.ChangePriority (which only updates
// the field) and should be preferred whenever t was created by g.
func (g *ExecutorGroup) ChangeTaskPriority(t Task, newPriority TaskPriority) {
	it, ok := t.(internalTask)
	if !ok {
		t.ChangePriority(newPriority)
		return
	}
	newPriority = ClampPriority(newPriority)
	oldExecutor := it.executorRef()
	newExecutor := g.executorFor(newPriority)

	if oldExecutor == nil || oldExecutor == newExecutor {
		t.ChangePriority(newPriority)
		return
	}
	if oldExecutor.queue.RemoveByIdentity(it) {
		t.ChangePriority(newPriority)
		it.setExecutorRef(newExecutor)
		newExecutor.queue.Push(it)
		fg := newExecutor.sync.Gate(newExecutor.queueFillKey)
		fg.Lock()
		fg.Broadcast()
		fg.Unlock()
		return
	}
	// Already dequeued (running, dispatched or finished): no queue to move.
	t.ChangePriority(newPriority)
}

// WaitFor raises the priority of t's predecessors and in-flight siblings
// within its owning executor, then waits for t to finish. Delegates to
// the underlying executor; present on the group for parity with the
// external surface.
func (g *ExecutorGroup) WaitFor(ctx context.Context, t Task, p TaskPriority) {
	it, ok := t.(internalTask)
	if !ok {
		t.WaitForFinish(ctx, false)
		return
	}
	e := it.executorRef()
	if e == nil {
		e = g.executorFor(t.Priority())
	}
	e.WaitFor(ctx, t, p)
}

// WaitForTasksEnding waits for the executor owning priority p to drain.
// waitForNewAddedTasks, if true, keeps iterating until a full pass
// observes emptiness with no intervening admission.
func (g *ExecutorGroup) WaitForTasksEnding(ctx context.Context, priority TaskPriority, waitForNewAddedTasks bool) {
	g.executorFor(priority).WaitForTasksEnding(ctx, waitForNewAddedTasks)
}

// WaitForAllTasksEnding waits for all three tiers to drain, independently.
func (g *ExecutorGroup) WaitForAllTasksEnding(ctx context.Context, waitForNewAddedTasks bool) {
	for _, p := range []TaskPriority{PriorityLow, PriorityNormal, PriorityHigh} {
		g.WaitForTasksEnding(ctx, p, waitForNewAddedTasks)
	}
}

// SetTasksCreationTrackingFlag toggles creation-stack tracking on every
// tier's executor.
func (g *ExecutorGroup) SetTasksCreationTrackingFlag(flag bool) {
	g.mu.Lock()
	g.trackCreation = flag
	g.mu.Unlock()
	for _, e := range g.executors {
		e.SetTasksCreationTrackingFlag(flag)
	}
}

// ShutDown tears down every tier's executor, then the shared Thread
// Supplier.
func (g *ExecutorGroup) ShutDown(waitForTasksTermination bool) {
	for _, e := range g.executors {
		e.ShutDown(waitForTasksTermination)
	}
	g.supplier.ShutDownAll()
}

// Stats returns a point-in-time snapshot across all three tiers.
func (g *ExecutorGroup) Stats() GroupStats {
	return GroupStats{
		Low:    g.executors[PriorityLow].Stats(),
		Normal: g.executors[PriorityNormal].Stats(),
		High:   g.executors[PriorityHigh].Stats(),
	}
}

// SupplierStats returns the shared Thread Supplier's point-in-time
// snapshot.
func (g *ExecutorGroup) SupplierStats() SupplierStats {
	return g.supplier.Stats()
}
