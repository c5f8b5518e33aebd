package core

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func newTestGroup(t *testing.T, name string) *ExecutorGroup {
	t.Helper()
	cfg := GroupConfig{Name: name, Daemon: true}
	supplierCfg := testSupplierConfig(name+"_supplier", 4, 4)
	return NewExecutorGroup(cfg, supplierCfg, Collaborators{})
}

// TestExecutorGroup_CreateTaskClampsPriorityToNearestTier
// Given: a priority value outside the legal {Low,Normal,High} set
// When: CreateTask is called with it
// Then: the task's priority is clamped to High and it is admitted through the High tier's executor
func TestExecutorGroup_CreateTaskClampsPriorityToNearestTier(t *testing.T) {
	g := newTestGroup(t, "clamp")
	defer g.ShutDown(false)

	rt := g.CreateTask(func(ctx context.Context) error { return nil }, TaskPriority(99))
	if err := rt.Submit(); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	rt.WaitForFinish(context.Background(), false)

	stats := g.executors[PriorityHigh].Stats()
	if stats.Queued != 0 {
		t.Fatalf("expected the high tier's queue to have drained, got %d queued", stats.Queued)
	}
}

// TestExecutorGroup_ChangeTaskPriorityMovesQueuedTaskAcrossTiers
// Given: a still-queued low-priority task blocked behind a long-running predecessor
// When: ChangeTaskPriority raises it to high
// Then: it is removed from the low executor's queue and pushed onto the high executor's queue
func TestExecutorGroup_ChangeTaskPriorityMovesQueuedTaskAcrossTiers(t *testing.T) {
	g := newTestGroup(t, "move")
	defer g.ShutDown(false)

	block := make(chan struct{})
	blocker := g.CreateTask(func(ctx context.Context) error { <-block; return nil }, PriorityLow)
	if err := blocker.Submit(); err != nil {
		t.Fatalf("submit blocker failed: %v", err)
	}

	mover := g.CreateTask(func(ctx context.Context) error { return nil }, PriorityLow)
	if err := mover.Submit(); err != nil {
		t.Fatalf("submit mover failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond) // let the drain loop pick up the blocker first

	g.ChangeTaskPriority(mover, PriorityHigh)

	lowStats := g.executors[PriorityLow].Stats()
	highStats := g.executors[PriorityHigh].Stats()
	if lowStats.Queued != 0 {
		t.Fatalf("expected the mover to have left the low queue, still %d queued", lowStats.Queued)
	}
	if highStats.Queued != 1 {
		t.Fatalf("expected the mover to land in the high queue, got %d queued", highStats.Queued)
	}
	if mover.Priority() != PriorityHigh {
		t.Fatalf("mover.Priority() = %v, want High", mover.Priority())
	}

	close(block)
	mover.WaitForFinish(context.Background(), false)
	blocker.WaitForFinish(context.Background(), false)
}

// TestExecutorGroup_WaitForEscalatesPredecessorsNotTheTargetItself covers
// the scheduling-hint half of WaitFor: a predecessor submitted ahead of the
// awaited task in its own tier (here, still running on the drain
// goroutine) is escalated, not the awaited task.
func TestExecutorGroup_WaitForEscalatesPredecessorsNotTheTargetItself(t *testing.T) {
	g := newTestGroup(t, "waitfor")
	defer g.ShutDown(false)

	block := make(chan struct{})
	pred := g.CreateTask(func(ctx context.Context) error { <-block; return nil }, PriorityLow)
	target := g.CreateTask(func(ctx context.Context) error { return nil }, PriorityLow)

	if err := pred.Submit(); err != nil {
		t.Fatalf("submit pred failed: %v", err)
	}
	if err := target.Submit(); err != nil {
		t.Fatalf("submit target failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		g.WaitFor(context.Background(), target, PriorityHigh)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	if pred.Priority() != PriorityHigh {
		t.Fatalf("expected the predecessor to be escalated to High, got %v", pred.Priority())
	}
	if target.Priority() != PriorityLow {
		t.Fatalf("expected the awaited task's own priority to stay Low, got %v", target.Priority())
	}

	close(block)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitFor never returned after the target finished")
	}
}

// TestExecutorGroup_ShutDownTearsDownAllTiersAndSupplier
func TestExecutorGroup_ShutDownTearsDownAllTiersAndSupplier(t *testing.T) {
	g := newTestGroup(t, "shutdown")

	var ran atomic.Bool
	rt := g.CreateTask(func(ctx context.Context) error { ran.Store(true); return nil }, PriorityNormal)
	if err := rt.Submit(); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	rt.WaitForFinish(context.Background(), false)

	g.ShutDown(false)

	for _, e := range g.executors {
		if !e.IsTerminated() {
			t.Fatalf("expected executor %s to be terminated after group ShutDown", e.Name())
		}
	}
	if !ran.Load() {
		t.Fatal("expected the task submitted before ShutDown to have run")
	}
}
