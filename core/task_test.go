package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func admitToSlice(dest *[]internalTask, mu *sync.Mutex) func(internalTask) error {
	return func(t internalTask) error {
		mu.Lock()
		*dest = append(*dest, t)
		mu.Unlock()
		return nil
	}
}

// TestTaskCore_SubmitIsMonotonic verifies that a second submit fails and
// does not re-enqueue.
// Given: a task submitted once
// When: Submit is called again
// Then: it reports an admission error and the admit callback fires only once
func TestTaskCore_SubmitIsMonotonic(t *testing.T) {
	var admitted []internalTask
	var mu sync.Mutex
	rt := newRunnableTask(func(ctx context.Context) error { return nil }, PriorityNormal, admitToSlice(&admitted, &mu), false)

	if err := rt.Submit(); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	if err := rt.Submit(); err == nil {
		t.Fatal("second submit must fail")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(admitted) != 1 {
		t.Fatalf("admit callback fired %d times, want 1", len(admitted))
	}
}

// TestTaskCore_WaitForFinishRefusesSelfWait verifies the self-wait check.
// Given: a task running on a worker whose identity it has bound to itself
// When: WaitForFinish(false) is called from within a context carrying that same identity
// Then: it returns immediately instead of blocking on doneCh
func TestTaskCore_WaitForFinishRefusesSelfWait(t *testing.T) {
	rt := newRunnableTask(func(ctx context.Context) error { return nil }, PriorityNormal, func(internalTask) error { return nil }, false)
	identity := &struct{}{}
	rt.bindRunnerIdentity(identity)

	ctx := withRunnerIdentity(context.Background(), identity)
	done := make(chan struct{})
	go func() {
		rt.WaitForFinish(ctx, false)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForFinish(false) self-wait must not block")
	}
}

// TestTaskCore_WaitForFinishBlocksUntilDone
// Given: a task that has not finished
// When: WaitForFinish is called from an unrelated context
// Then: it blocks until runExec completes, then returns
func TestTaskCore_WaitForFinishBlocksUntilDone(t *testing.T) {
	rt := newRunnableTask(func(ctx context.Context) error { return nil }, PriorityNormal, func(internalTask) error { return nil }, false)

	finishedBeforeWait := make(chan struct{})
	go func() {
		time.Sleep(30 * time.Millisecond)
		rt.runExec(context.Background())
		close(finishedBeforeWait)
	}()

	start := time.Now()
	rt.WaitForFinish(context.Background(), false)
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("WaitForFinish returned before the task actually finished")
	}
	<-finishedBeforeWait
}

// TestTaskCore_RunExecRecoversPanicAndStillCompletes
// Given: a task whose executable panics
// When: runExec runs it
// Then: it reports panicked=true, and HasFinished/doneCh still complete so no waiter hangs forever
func TestTaskCore_RunExecRecoversPanicAndStillCompletes(t *testing.T) {
	rt := newRunnableTask(func(ctx context.Context) error { panic("boom") }, PriorityNormal, func(internalTask) error { return nil }, false)

	panicked, panicVal, stack := rt.runExec(context.Background())
	if !panicked {
		t.Fatal("expected panicked=true")
	}
	if panicVal != "boom" {
		t.Fatalf("panicVal = %v, want boom", panicVal)
	}
	if len(stack) == 0 {
		t.Fatal("expected a non-empty captured stack trace")
	}
	if !rt.HasFinished() {
		t.Fatal("a panicking task must still be marked finished")
	}
	if !rt.EndedWithErrors() {
		t.Fatal("a panicking task must report EndedWithErrors")
	}
}

// TestRunOnlyOnce_SecondAdmissionDelegatesToWinner verifies once-only
// delegation.
// Given: two tasks sharing the same once-only key, registered one after the other
// When: both are admitted through registerOnce
// Then: exactly one becomes the effective task, and HasFinished on the loser delegates to the winner
func TestRunOnlyOnce_SecondAdmissionDelegatesToWinner(t *testing.T) {
	resetOnceRegistry()
	defer resetOnceRegistry()

	var ran int
	var mu sync.Mutex
	makeTask := func() *RunnableTask {
		rt := newRunnableTask(func(ctx context.Context) error {
			mu.Lock()
			ran++
			mu.Unlock()
			return nil
		}, PriorityNormal, func(internalTask) error { return nil }, false)
		rt.RunOnlyOnce("dedupe-key", nil)
		return rt
	}

	winner := makeTask()
	loser := makeTask()

	w, isNew := registerOnce(winner.onceOnlyKey(), winner.taskCore)
	if !isNew || w != internalTask(winner.taskCore) {
		t.Fatal("first registration must win")
	}
	l, isNew2 := registerOnce(loser.onceOnlyKey(), loser.taskCore)
	if isNew2 || l != internalTask(winner.taskCore) {
		t.Fatal("second registration must observe the winner")
	}
	loser.taskCore.setOnceWinner(l)

	winner.runExec(context.Background())

	if !loser.HasFinished() {
		t.Fatal("loser.HasFinished() must delegate to the completed winner")
	}
	if ran != 1 {
		t.Fatalf("executable ran %d times, want exactly 1", ran)
	}
}

// TestProducerTask_JoinReturnsCachedResult verifies that joining a task
// that has already finished returns the cached result, not a
// re-execution.
func TestProducerTask_JoinReturnsCachedResult(t *testing.T) {
	var calls int
	pt := newProducerTask[int](func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	}, PriorityNormal, func(internalTask) error { return nil }, false)

	pt.runExec(context.Background())

	v1, err1 := pt.Join(context.Background())
	v2, err2 := pt.Join(context.Background())
	if err1 != nil || err2 != nil {
		t.Fatalf("unexpected errors: %v, %v", err1, err2)
	}
	if v1 != 42 || v2 != 42 {
		t.Fatalf("got %d, %d, want 42, 42", v1, v2)
	}
	if calls != 1 {
		t.Fatalf("executable ran %d times, want 1", calls)
	}
}

// TestTaskCore_GetExceptionReportsExecutableError
func TestTaskCore_GetExceptionReportsExecutableError(t *testing.T) {
	boom := errors.New("boom")
	rt := newRunnableTask(func(ctx context.Context) error { return boom }, PriorityNormal, func(internalTask) error { return nil }, false)
	rt.runExec(context.Background())
	if !errors.Is(rt.GetException(), boom) {
		t.Fatalf("GetException() = %v, want wrapping %v", rt.GetException(), boom)
	}
	if !rt.EndedWithErrors() {
		t.Fatal("expected EndedWithErrors")
	}
}

// TestGenerateTaskID_IsUnique
func TestGenerateTaskID_IsUnique(t *testing.T) {
	a, b := GenerateTaskID(), GenerateTaskID()
	if a == b || a.IsZero() || b.IsZero() {
		t.Fatal("GenerateTaskID must produce distinct, non-zero ids")
	}
}
