package core

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
)

func capturePanicStack() []byte {
	return debug.Stack()
}

// TaskID identifies a Task for logging, observability and the once-only
// registry. The zero value (empty string) never names a real task.
type TaskID string

// GenerateTaskID returns a fresh, globally unique TaskID.
func GenerateTaskID() TaskID {
	return TaskID(uuid.NewString())
}

func (id TaskID) String() string { return string(id) }
func (id TaskID) IsZero() bool   { return id == "" }

// TaskMode controls how an admitted task is dispatched by its owning
// Queued Task Executor.
type TaskMode int

const (
	// ModeSync runs inline on the executor's drain goroutine.
	ModeSync TaskMode = iota
	// ModeAsync is queued like ModeSync but dispatched to a dedicated
	// worker once drained, tracked in the executor's in-flight set while
	// it runs.
	ModeAsync
	// ModePureAsync bypasses the queue entirely: a dedicated worker is
	// obtained and started at admission time. A pure-async task is
	// never observed in the queue, only in the in-flight set.
	ModePureAsync
)

func (m TaskMode) String() string {
	switch m {
	case ModeSync:
		return "sync"
	case ModeAsync:
		return "async"
	case ModePureAsync:
		return "pure-async"
	default:
		return "unknown"
	}
}

// Task is the capability set common to every runnable and producer task,
// independent of its result type.
type Task interface {
	ID() TaskID
	Priority() TaskPriority
	Mode() TaskMode

	// Submit enqueues the task with its owning executor or group. It
	// fails if the task has already been submitted, per the monotonic
	// submission invariant.
	Submit() error

	// WaitForFinish blocks until the task has finished. If
	// ignoreThreadCheck is false and the call is made from within the
	// task's own worker, it returns immediately instead of deadlocking.
	WaitForFinish(ctx context.Context, ignoreThreadCheck bool)

	// WaitForStart blocks until the task has started running (not
	// necessarily finished).
	WaitForStart(ctx context.Context)

	// ChangePriority updates the task's priority field. Called through
	// an ExecutorGroup, this also moves the task to the corresponding
	// priority's queue if it is still waiting to run.
	ChangePriority(p TaskPriority)

	GetException() error
	EndedWithErrors() bool
	IsSubmitted() bool
	HasStarted() bool
	HasFinished() bool

	// CreatorStack returns the caller's stack at task creation time, or
	// nil if creation tracking was not enabled.
	CreatorStack() []string
}

// internalTask is the package-private extension of Task used by the
// queue, executor, supplier and group to dispatch tasks uniformly
// regardless of whether they carry a typed result. Every exported task
// type embeds *taskCore, which implements internalTask, so the
// unexported method set here can never be satisfied from outside this
// package.
type internalTask interface {
	Task

	runExec(ctx context.Context) (panicked bool, panicVal any, stack []byte)

	bindRunnerIdentity(id any)
	setWorkerRef(w *Worker)
	workerRef() *Worker
	setExecutorRef(e *QueuedTaskExecutor)
	executorRef() *QueuedTaskExecutor

	onceOnlyKey() string
	onceOnlyProbe() func() bool

	// setOnceWinner binds this task permanently to the task that won its
	// once-only key's admission race. Cached at admission time rather than
	// re-resolved from the registry later, since the registry entry is
	// removed the moment the winner finishes.
	setOnceWinner(w internalTask)
	onceWinnerRef() internalTask

	// markOnceAlreadyDone marks a once-only task as finished without
	// running it, for the case where its probe reports the work was
	// already performed outside this registry.
	markOnceAlreadyDone()
}

// taskCore holds the state and behavior shared by RunnableTask and
// ProducerTask[T]. It plays the role of Burningwave's TaskAbst, but as a
// plain struct embedded by value-identity (pointer) rather than an
// inheritance hierarchy: RunnableTask and ProducerTask[T] add only the
// handful of methods that differ by result type (Join, Get, RunOnlyOnce)
// and otherwise forward to taskCore via Go's method promotion.
type taskCore struct {
	id TaskID

	mu        sync.Mutex
	priority  TaskPriority
	mode      TaskMode
	submitted bool
	started   bool
	finished  bool
	startedCh chan struct{}
	doneCh    chan struct{}

	result any
	err    error

	worker         *Worker
	executor       *QueuedTaskExecutor
	runnerIdentity any

	onceKey    string
	onceProbe  func() bool
	onceWinner internalTask

	creatorStack []uintptr

	execFn func(ctx context.Context) (any, error)
	admit  func(t internalTask) error

	self internalTask
}

func newTaskCore(priority TaskPriority, admit func(internalTask) error, trackCreation bool) *taskCore {
	tc := &taskCore{
		id:        GenerateTaskID(),
		priority:  ClampPriority(priority),
		mode:      ModeSync,
		startedCh: make(chan struct{}),
		doneCh:    make(chan struct{}),
		admit:     admit,
	}
	if trackCreation {
		pcs := make([]uintptr, 32)
		n := runtime.Callers(3, pcs)
		tc.creatorStack = pcs[:n]
	}
	return tc
}

func (t *taskCore) ID() TaskID          { return t.id }
func (t *taskCore) Mode() TaskMode      { t.mu.Lock(); defer t.mu.Unlock(); return t.mode }
func (t *taskCore) Priority() TaskPriority {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priority
}

func (t *taskCore) setMode(m TaskMode) {
	t.mu.Lock()
	t.mode = m
	t.mu.Unlock()
}

// ChangePriority just updates the field; an ExecutorGroup wraps this with
// the cross-queue move when it's the one that owns the task.
func (t *taskCore) ChangePriority(p TaskPriority) {
	p = ClampPriority(p)
	t.mu.Lock()
	t.priority = p
	t.mu.Unlock()
}

func (t *taskCore) onceOnlyKey() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onceKey
}

func (t *taskCore) onceOnlyProbe() func() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onceProbe
}

func (t *taskCore) setOnceWinner(w internalTask) {
	t.mu.Lock()
	t.onceWinner = w
	t.mu.Unlock()
}

func (t *taskCore) onceWinnerRef() internalTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onceWinner
}

// markOnceAlreadyDone marks the task finished without ever running its
// executable. Only ever called once, from admitTask, before Submit's
// monotonic-admission flag could let any other completion path race it.
func (t *taskCore) markOnceAlreadyDone() {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.finished = true
	startedCh := t.startedCh
	doneCh := t.doneCh
	t.mu.Unlock()
	close(startedCh)
	close(doneCh)
}

// Submit enforces that a task can be admitted exactly once: a second call
// fails and does not enqueue the task again.
func (t *taskCore) Submit() error {
	t.mu.Lock()
	if t.submitted {
		id := t.id
		t.mu.Unlock()
		return errAlreadySubmitted(id)
	}
	t.submitted = true
	t.mu.Unlock()
	return t.admit(t.self)
}

func (t *taskCore) IsSubmitted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.submitted
}

func (t *taskCore) HasStarted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// HasFinished delegates to the winner this task lost its once-only race
// to, if any. The winner reference is cached at admission time rather
// than looked up live, since the registry entry for a once-only key is
// removed the moment the winner itself finishes (see runExec).
func (t *taskCore) HasFinished() bool {
	t.mu.Lock()
	winner := t.onceWinner
	finished := t.finished
	t.mu.Unlock()

	if winner != nil {
		return winner.HasFinished()
	}
	return finished
}

func (t *taskCore) GetException() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *taskCore) EndedWithErrors() bool {
	return t.GetException() != nil
}

func (t *taskCore) CreatorStack() []string {
	t.mu.Lock()
	pcs := t.creatorStack
	t.mu.Unlock()
	if len(pcs) == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs)
	var out []string
	for {
		frame, more := frames.Next()
		out = append(out, fmt.Sprintf("%s (%s:%d)", frame.Function, frame.File, frame.Line))
		if !more {
			break
		}
	}
	return out
}

// WaitForFinish blocks until the task has finished. A task that calls
// WaitForFinish on itself from within its own executable returns
// immediately instead of blocking forever, unless ignoreThreadCheck
// forces the block anyway.
func (t *taskCore) WaitForFinish(ctx context.Context, ignoreThreadCheck bool) {
	t.mu.Lock()
	winner := t.onceWinner
	mine := t.runnerIdentity
	t.mu.Unlock()

	if !ignoreThreadCheck {
		if cur := currentRunnerIdentity(ctx); cur != nil && mine != nil && cur == mine {
			return
		}
	}

	if winner != nil {
		winner.WaitForFinish(ctx, ignoreThreadCheck)
		return
	}

	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	doneCh := t.doneCh
	t.mu.Unlock()

	select {
	case <-doneCh:
	case <-ctx.Done():
	}
}

func (t *taskCore) WaitForStart(ctx context.Context) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	startedCh := t.startedCh
	t.mu.Unlock()

	select {
	case <-startedCh:
	case <-ctx.Done():
	}
}

func (t *taskCore) bindRunnerIdentity(id any) {
	t.mu.Lock()
	t.runnerIdentity = id
	t.mu.Unlock()
}

func (t *taskCore) setWorkerRef(w *Worker) {
	t.mu.Lock()
	t.worker = w
	t.mu.Unlock()
}

func (t *taskCore) workerRef() *Worker {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.worker
}

func (t *taskCore) setExecutorRef(e *QueuedTaskExecutor) {
	t.mu.Lock()
	t.executor = e
	t.mu.Unlock()
}

func (t *taskCore) executorRef() *QueuedTaskExecutor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.executor
}

// runExec runs the task's executable, recovering any panic so that
// started/finished bookkeeping always completes; the panic is reported
// back to the caller (the executor or worker that dispatched this task)
// rather than swallowed.
func (t *taskCore) runExec(ctx context.Context) (panicked bool, panicVal any, stack []byte) {
	t.mu.Lock()
	t.started = true
	startedCh := t.startedCh
	t.mu.Unlock()
	close(startedCh)

	var result any
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				panicVal = r
				stack = capturePanicStack()
				err = &Error{Kind: KindExecution, Message: "task panicked", Cause: fmt.Errorf("%v", r)}
			}
		}()
		result, err = t.execFn(ctx)
	}()

	t.mu.Lock()
	t.result = result
	t.err = err
	t.finished = true
	onceKey := t.onceKey
	doneCh := t.doneCh
	t.mu.Unlock()

	if onceKey != "" {
		completeOnce(onceKey)
	}
	close(doneCh)
	return
}

// =============================================================================
// runner identity (context-carried, used by WaitForFinish's self-wait check)
// =============================================================================

type runnerIdentityKey struct{}

func withRunnerIdentity(ctx context.Context, id any) context.Context {
	return context.WithValue(ctx, runnerIdentityKey{}, id)
}

func currentRunnerIdentity(ctx context.Context) any {
	return ctx.Value(runnerIdentityKey{})
}

// =============================================================================
// Once-only registry
// =============================================================================

var onceRegistry sync.Map // map[string]internalTask

// registerOnce attempts to become the effective task for key. It returns
// the winner (itself if it won the race) and whether it was the first.
func registerOnce(key string, t internalTask) (winner internalTask, isNew bool) {
	actual, loaded := onceRegistry.LoadOrStore(key, t)
	return actual.(internalTask), !loaded
}

func completeOnce(key string) {
	onceRegistry.Delete(key)
}

// resetOnceRegistry clears the process-wide once-only registry. Exported
// only to this package's tests, which otherwise leak state across cases
// that reuse the same once-only key.
func resetOnceRegistry() {
	onceRegistry.Range(func(k, _ any) bool {
		onceRegistry.Delete(k)
		return true
	})
}

// =============================================================================
// RunnableTask: Task-shaped executable with no result
// =============================================================================

// RunnableTask is a Task whose executable returns only an error.
type RunnableTask struct{ *taskCore }

// newRunnableTask builds a RunnableTask that is not yet bound to any
// executor; admit is supplied by the executor or group that creates it.
func newRunnableTask(fn func(ctx context.Context) error, priority TaskPriority, admit func(internalTask) error, trackCreation bool) *RunnableTask {
	tc := newTaskCore(priority, admit, trackCreation)
	rt := &RunnableTask{tc}
	tc.self = rt
	tc.execFn = func(ctx context.Context) (any, error) { return nil, fn(ctx) }
	return rt
}

// RunOnlyOnce marks the task as a once-only task keyed by id: the first
// submission wins admission, later submissions sharing the same id become
// no-ops that observe the winner. probe, if non-nil, is consulted at
// admission: if it reports true, the work is taken as already performed
// and the task is marked finished without running.
func (r *RunnableTask) RunOnlyOnce(id string, probe func() bool) *RunnableTask {
	r.mu.Lock()
	r.onceKey = id
	r.onceProbe = probe
	r.mu.Unlock()
	return r
}

func (r *RunnableTask) Async() *RunnableTask     { r.setMode(ModeAsync); return r }
func (r *RunnableTask) PureAsync() *RunnableTask { r.setMode(ModePureAsync); return r }
func (r *RunnableTask) Sync() *RunnableTask      { r.setMode(ModeSync); return r }

// =============================================================================
// ProducerTask[T]: Task-shaped executable with a typed result
// =============================================================================

// ProducerTask produces a value of type T once it finishes.
type ProducerTask[T any] struct{ *taskCore }

func newProducerTask[T any](fn func(ctx context.Context) (T, error), priority TaskPriority, admit func(internalTask) error, trackCreation bool) *ProducerTask[T] {
	tc := newTaskCore(priority, admit, trackCreation)
	pt := &ProducerTask[T]{tc}
	tc.self = pt
	tc.execFn = func(ctx context.Context) (any, error) {
		v, err := fn(ctx)
		return v, err
	}
	return pt
}

// Join waits for the task to finish and returns its result.
func (p *ProducerTask[T]) Join(ctx context.Context) (T, error) {
	p.WaitForFinish(ctx, false)
	p.mu.Lock()
	res, err := p.result, p.err
	p.mu.Unlock()
	var zero T
	if res == nil {
		return zero, err
	}
	v, _ := res.(T)
	return v, err
}

// Get returns the cached result without waiting. ok is false if the task
// has not finished yet.
func (p *ProducerTask[T]) Get() (value T, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.finished {
		return value, false
	}
	v, _ := p.result.(T)
	return v, true
}

func (p *ProducerTask[T]) Async() *ProducerTask[T]     { p.setMode(ModeAsync); return p }
func (p *ProducerTask[T]) PureAsync() *ProducerTask[T] { p.setMode(ModePureAsync); return p }
func (p *ProducerTask[T]) Sync() *ProducerTask[T]      { p.setMode(ModeSync); return p }
