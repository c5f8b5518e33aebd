package core

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"
)

// queueFillPollInterval bounds how long the drain loop can sit on an empty
// queue before re-checking, as a safety net against a missed broadcast
// racing a concurrent admit/shutdown.
const queueFillPollInterval = 200 * time.Millisecond

// ExecutorConfig configures a QueuedTaskExecutor at construction time.
type ExecutorConfig struct {
	Name     string
	Priority TaskPriority
	// TrackCreation enables Task.CreatorStack on tasks this executor creates.
	TrackCreation bool
	// Undestroyable, if set, makes ShutDown a no-op unless called from the
	// same call site that constructed this executor.
	Undestroyable bool
	// HistorySize bounds the execution-history ring buffer; defaults to 128.
	HistorySize int
}

// QueuedTaskExecutor owns one priority tier's FIFO queue and dedicated
// drain goroutine. It is the Go analogue of Burningwave's
// QueuedTasksExecutor.Task, minus the inheritance hierarchy.
type QueuedTaskExecutor struct {
	name     string
	priority TaskPriority
	collab   Collaborators
	sync     *Synchronizer
	supplier *ThreadSupplier
	queue    *TaskQueue
	history  *executionHistory

	resumeKey        string
	suspensionKey    string
	queueFillKey     string
	drainCompleteKey string

	mu            sync.Mutex
	suspended     bool
	terminated    bool
	trackCreation bool
	inFlight      map[TaskID]internalTask
	currentSync   internalTask

	undestroyable bool
	creatorSite   string

	drainDoneCh chan struct{}
}

// NewQueuedTaskExecutor creates an executor bound to supplier for
// dispatching ASYNC/PURE_ASYNC work, and starts its drain goroutine.
func NewQueuedTaskExecutor(cfg ExecutorConfig, supplier *ThreadSupplier, collab Collaborators) *QueuedTaskExecutor {
	collab = collab.WithDefaults()
	historySize := cfg.HistorySize
	if historySize <= 0 {
		historySize = 128
	}
	e := &QueuedTaskExecutor{
		name:             cfg.Name,
		priority:         cfg.Priority,
		collab:           collab,
		sync:             NewSynchronizer(),
		supplier:         supplier,
		queue:            NewTaskQueue(),
		history:          newExecutionHistory(historySize),
		inFlight:         make(map[TaskID]internalTask),
		trackCreation:    cfg.TrackCreation,
		undestroyable:    cfg.Undestroyable,
		resumeKey:        cfg.Name + "_resume",
		suspensionKey:    cfg.Name + "_suspension",
		queueFillKey:     cfg.Name + "_queue_fill",
		drainCompleteKey: cfg.Name + "_drain_complete",
		drainDoneCh:      make(chan struct{}),
	}
	if cfg.Undestroyable {
		_, file, line, _ := runtime.Caller(1)
		e.creatorSite = fmt.Sprintf("%s:%d", file, line)
	}
	go e.drain()
	return e
}

func (e *QueuedTaskExecutor) Name() string          { return e.name }
func (e *QueuedTaskExecutor) Priority() TaskPriority { return e.priority }

// SetTasksCreationTrackingFlag toggles whether tasks created through this
// executor capture their creation-site stack.
func (e *QueuedTaskExecutor) SetTasksCreationTrackingFlag(flag bool) {
	e.mu.Lock()
	e.trackCreation = flag
	e.mu.Unlock()
}

// CreateTask builds a RunnableTask bound to this executor, not yet
// submitted.
func (e *QueuedTaskExecutor) CreateTask(fn func(ctx context.Context) error) *RunnableTask {
	e.mu.Lock()
	track := e.trackCreation
	e.mu.Unlock()
	return newRunnableTask(fn, e.priority, e.admitTask, track)
}

// CreateProducerTask builds a ProducerTask[T] bound to e. A package-level
// function since Go methods can't introduce their own type parameter.
func CreateProducerTask[T any](e *QueuedTaskExecutor, fn func(ctx context.Context) (T, error)) *ProducerTask[T] {
	e.mu.Lock()
	track := e.trackCreation
	e.mu.Unlock()
	return newProducerTask[T](fn, e.priority, e.admitTask, track)
}

// admitTask is the admission path every task's Submit() calls through.
func (e *QueuedTaskExecutor) admitTask(t internalTask) error {
	e.mu.Lock()
	terminated := e.terminated
	e.mu.Unlock()
	if terminated {
		e.collab.RejectedTaskHandler.HandleRejectedTask(e.name, t.ID(), "executor is terminated")
		e.collab.Metrics.RecordTaskRejected(e.name, "terminated")
		return errExecutorTerminated(e.name)
	}

	if key := t.onceOnlyKey(); key != "" {
		if probe := t.onceOnlyProbe(); probe != nil && probe() {
			// The work this once-only task represents was already
			// performed outside this registry: mark it finished without
			// ever dispatching it.
			t.markOnceAlreadyDone()
			return nil
		}
		winner, isNew := registerOnce(key, t)
		if !isNew && winner != t {
			// Lost the once-only race: bind permanently to the winner so
			// HasFinished/WaitForFinish keep working after the winner
			// finishes and its registry entry is removed.
			t.setOnceWinner(winner)
			return nil
		}
	}

	t.setExecutorRef(e)

	if t.Mode() == ModePureAsync {
		e.mu.Lock()
		e.inFlight[t.ID()] = t
		count := len(e.inFlight)
		e.mu.Unlock()
		e.collab.Metrics.RecordInFlightCount(e.name, count)
		e.dispatchAsync(t)
		return nil
	}

	e.queue.Push(t)
	e.collab.Metrics.RecordQueueDepth(e.name, e.queue.Len())

	fg := e.sync.Gate(e.queueFillKey)
	fg.Lock()
	fg.Broadcast()
	fg.Unlock()
	return nil
}

// drain is the executor's single dedicated goroutine: it owns dequeueing,
// inline SYNC execution, and dispatch of ASYNC/PURE_ASYNC tasks to the
// Thread Supplier.
func (e *QueuedTaskExecutor) drain() {
	defer close(e.drainDoneCh)
	for {
		e.mu.Lock()
		terminated := e.terminated
		e.mu.Unlock()
		if terminated {
			return
		}

		if e.queue.IsEmpty() {
			dg := e.sync.Gate(e.drainCompleteKey)
			dg.Lock()
			dg.Broadcast()
			dg.Unlock()

			fg := e.sync.Gate(e.queueFillKey)
			fg.Lock()
			if e.queue.IsEmpty() {
				fg.Wait(queueFillPollInterval)
			}
			fg.Unlock()
			continue
		}

		if e.drainOnePass() {
			return
		}
	}
}

// drainOnePass walks one stable snapshot of the queue, dispatching each
// task still present when its turn comes. Returns true once it observes
// termination.
func (e *QueuedTaskExecutor) drainOnePass() bool {
	for _, t := range e.queue.Snapshot() {
		e.mu.Lock()
		suspended := e.suspended
		e.mu.Unlock()
		if suspended {
			// Re-check suspended under the resume gate's own lock, held
			// continuously through to Wait: the initial suspended read
			// above is taken under e.mu, a different lock than the gate
			// Resume() broadcasts on, so a Resume() landing in the gap
			// between that read and acquiring the gate here would
			// otherwise broadcast into an empty room. Holding the gate
			// across the re-check closes that window; the bounded
			// timeout is defense in depth against any other miss.
			rg := e.sync.Gate(e.resumeKey)
			for {
				rg.Lock()
				e.mu.Lock()
				stillSuspended := e.suspended
				e.mu.Unlock()
				if !stillSuspended {
					rg.Unlock()
					break
				}
				rg.Wait(queueFillPollInterval)
				rg.Unlock()
			}
			return false
		}

		if !e.queue.RemoveByIdentity(t) {
			continue
		}
		e.collab.Metrics.RecordQueueDepth(e.name, e.queue.Len())

		switch t.Mode() {
		case ModeSync:
			e.mu.Lock()
			e.currentSync = t
			e.mu.Unlock()
			e.runInline(t)
			e.mu.Lock()
			e.currentSync = nil
			e.mu.Unlock()
		default:
			e.mu.Lock()
			e.inFlight[t.ID()] = t
			count := len(e.inFlight)
			e.mu.Unlock()
			e.collab.Metrics.RecordInFlightCount(e.name, count)
			e.dispatchAsync(t)
		}

		sg := e.sync.Gate(e.suspensionKey)
		sg.Lock()
		sg.Broadcast()
		sg.Unlock()

		e.mu.Lock()
		terminated := e.terminated
		e.mu.Unlock()
		if terminated {
			return true
		}
	}
	return false
}

func (e *QueuedTaskExecutor) dispatchAsync(t internalTask) {
	w, err := e.supplier.GetOrCreate(context.Background())
	if err != nil {
		e.collab.Logger.Error("failed to obtain a worker", F("executor", e.name), F("task", t.ID()), F("error", err))
		e.mu.Lock()
		delete(e.inFlight, t.ID())
		e.mu.Unlock()
		return
	}
	t.setWorkerRef(w)
	e.supplier.Dispatch(w, func() {
		e.runDispatched(t, w)
	})
}

func (e *QueuedTaskExecutor) runDispatched(t internalTask, w *Worker) {
	ctx := withRunnerIdentity(context.Background(), w)
	t.bindRunnerIdentity(w)
	start := time.Now()
	panicked, panicVal, stack := t.runExec(ctx)
	e.afterRun(t, start, panicked, panicVal, stack)
}

func (e *QueuedTaskExecutor) runInline(t internalTask) {
	ctx := withRunnerIdentity(context.Background(), e)
	t.bindRunnerIdentity(e)
	start := time.Now()
	panicked, panicVal, stack := t.runExec(ctx)
	e.afterRun(t, start, panicked, panicVal, stack)
}

func (e *QueuedTaskExecutor) afterRun(t internalTask, start time.Time, panicked bool, panicVal any, stack []byte) {
	e.mu.Lock()
	delete(e.inFlight, t.ID())
	count := len(e.inFlight)
	e.mu.Unlock()
	e.collab.Metrics.RecordInFlightCount(e.name, count)

	if panicked {
		e.collab.PanicHandler.HandlePanic(context.Background(), e.name, t.ID(), panicVal, stack)
		e.collab.Metrics.RecordTaskPanic(e.name, panicVal)
	} else if t.EndedWithErrors() {
		e.collab.Logger.Error("task finished with an error", F("executor", e.name), F("task", t.ID()), F("error", t.GetException()))
	}
	e.collab.Metrics.RecordTaskDuration(e.name, t.Priority(), time.Since(start))

	e.history.record(TaskExecutionRecord{
		TaskID:   t.ID(),
		Priority: t.Priority(),
		Mode:     t.Mode(),
		Started:  start,
		Finished: time.Now(),
		Err:      t.GetException(),
		Panicked: panicked,
	})
}

// WaitFor raises the priority of every task strictly preceding t in the
// queue, of the SYNC task currently running on the drain goroutine, and of
// every currently in-flight task, to p, then waits for t to finish. This
// is a best-effort scheduling hint, not a correctness guarantee.
func (e *QueuedTaskExecutor) WaitFor(ctx context.Context, t Task, p TaskPriority) {
	if it, ok := t.(internalTask); ok {
		for _, pred := range e.queue.PredecessorsOf(it) {
			pred.ChangePriority(p)
		}
	}
	e.mu.Lock()
	inFlight := make([]internalTask, 0, len(e.inFlight)+1)
	for _, running := range e.inFlight {
		inFlight = append(inFlight, running)
	}
	if e.currentSync != nil && Task(e.currentSync) != t {
		inFlight = append(inFlight, e.currentSync)
	}
	e.mu.Unlock()
	for _, running := range inFlight {
		running.ChangePriority(p)
	}
	t.WaitForFinish(ctx, false)
}

// SuspendImmediate sets the suspended flag, waits for all in-flight
// ASYNC/PURE_ASYNC tasks to finish, and if a SYNC task is currently
// running on the drain goroutine, waits until it completes.
func (e *QueuedTaskExecutor) SuspendImmediate(ctx context.Context) {
	e.mu.Lock()
	e.suspended = true
	inFlight := make([]internalTask, 0, len(e.inFlight))
	for _, t := range e.inFlight {
		inFlight = append(inFlight, t)
	}
	current := e.currentSync
	e.mu.Unlock()

	for _, t := range inFlight {
		t.WaitForFinish(ctx, false)
	}

	if current == nil {
		return
	}
	g := e.sync.Gate(e.suspensionKey)
	for {
		g.Lock()
		e.mu.Lock()
		stillRunning := e.currentSync == current
		e.mu.Unlock()
		if !stillRunning {
			g.Unlock()
			return
		}
		g.Wait(0)
		g.Unlock()
	}
}

// SuspendGracefully escalates every currently queued task to callerPriority,
// then enqueues a once-only sentinel task that flips the suspended flag
// when it runs, and waits for that sentinel to finish. Unlike
// SuspendImmediate, the drain loop is left to reach the sentinel naturally
// rather than being stopped mid-task.
func (e *QueuedTaskExecutor) SuspendGracefully(ctx context.Context, callerPriority TaskPriority) {
	for _, t := range e.queue.Snapshot() {
		t.ChangePriority(callerPriority)
	}

	sentinel := newRunnableTask(func(context.Context) error {
		e.mu.Lock()
		e.suspended = true
		e.mu.Unlock()
		return nil
	}, callerPriority, e.admitTask, false)
	sentinel.RunOnlyOnce(e.name+"_graceful_suspend", nil)

	if err := sentinel.Submit(); err != nil {
		return
	}
	sentinel.WaitForFinish(ctx, false)
}

// Resume clears the suspended flag and wakes the drain loop.
func (e *QueuedTaskExecutor) Resume() {
	e.mu.Lock()
	e.suspended = false
	e.mu.Unlock()

	g := e.sync.Gate(e.resumeKey)
	g.Lock()
	g.Broadcast()
	g.Unlock()
}

// IsSuspended reports the current suspended flag.
func (e *QueuedTaskExecutor) IsSuspended() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.suspended
}

// WaitForTasksEnding blocks until the queue and in-flight set are both
// empty. If waitForNewAddedTasks is true, it keeps re-checking after an
// apparently-complete pass until one full pass observes emptiness with no
// new admissions in between.
func (e *QueuedTaskExecutor) WaitForTasksEnding(ctx context.Context, waitForNewAddedTasks bool) {
	for {
		g := e.sync.Gate(e.drainCompleteKey)
		for {
			e.mu.Lock()
			empty := e.queue.IsEmpty() && len(e.inFlight) == 0
			e.mu.Unlock()
			if empty {
				break
			}
			g.Lock()
			g.Wait(queueFillPollInterval)
			g.Unlock()
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
		if !waitForNewAddedTasks {
			return
		}
		e.mu.Lock()
		stillEmpty := e.queue.IsEmpty() && len(e.inFlight) == 0
		e.mu.Unlock()
		if stillEmpty {
			return
		}
	}
}

// ShutDown suspends (gracefully if waitForTasksTermination, immediately
// otherwise), terminates the drain loop, clears the queue and in-flight
// set, and waits for the drain goroutine to exit. If this executor was
// constructed with Undestroyable set, ShutDown is a no-op unless called
// from the same source location that constructed it.
func (e *QueuedTaskExecutor) ShutDown(waitForTasksTermination bool) {
	if e.undestroyable {
		_, file, line, _ := runtime.Caller(1)
		if fmt.Sprintf("%s:%d", file, line) != e.creatorSite {
			return
		}
	}

	ctx := context.Background()
	if waitForTasksTermination {
		e.SuspendGracefully(ctx, PriorityHigh)
	} else {
		e.SuspendImmediate(ctx)
	}

	e.mu.Lock()
	e.terminated = true
	e.mu.Unlock()

	e.queue.Clear()
	e.mu.Lock()
	e.inFlight = make(map[TaskID]internalTask)
	e.mu.Unlock()

	e.Resume()

	fg := e.sync.Gate(e.queueFillKey)
	fg.Lock()
	fg.Broadcast()
	fg.Unlock()

	<-e.drainDoneCh
}

// IsTerminated reports whether ShutDown has completed.
func (e *QueuedTaskExecutor) IsTerminated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminated
}

// Stats returns a point-in-time snapshot of this executor's queue depth,
// in-flight count and suspension state.
func (e *QueuedTaskExecutor) Stats() ExecutorStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ExecutorStats{
		Name:      e.name,
		Priority:  e.priority,
		Queued:    e.queue.Len(),
		InFlight:  len(e.inFlight),
		Suspended: e.suspended,
	}
}

// History returns the recorded execution history in oldest-to-newest
// order.
func (e *QueuedTaskExecutor) History() []TaskExecutionRecord {
	return e.history.Snapshot()
}
