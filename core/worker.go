package core

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// WorkerKind distinguishes a pool-managed worker, which parks and is
// reused, from a detached worker, which runs exactly one assignment and
// exits.
type WorkerKind int

const (
	KindPoolable WorkerKind = iota
	KindDetached
)

func (k WorkerKind) String() string {
	if k == KindPoolable {
		return "poolable"
	}
	return "detached"
}

// WorkerState is the Go stand-in for Thread.State's WAITING check in the
// original: a worker is Parked exactly when it is safe to hand it a new
// assignment from the sleeping-slot array.
type WorkerState int32

const (
	WorkerRunning WorkerState = iota
	WorkerParked
	WorkerDead
)

// workAssignment is what a ThreadSupplier hands a worker to execute next.
// A zero-value exec is the poison pill used to retire a parked worker.
type workAssignment struct {
	exec func()
	name string
}

var workerSeq atomic.Int64

// Worker is a goroutine-backed unit of execution. PoolableWorker and
// DetachedWorker from the spec map onto the same struct distinguished by
// Kind: both run on their own goroutine, but a poolable worker parks on
// assignCh for reuse after finishing, while a detached worker's goroutine
// exits for good after its one assignment.
type Worker struct {
	id       int64
	kind     WorkerKind
	daemon   bool
	supplier *ThreadSupplier

	mu    sync.Mutex
	name  string
	alive bool
	state WorkerState

	assignCh chan workAssignment
	doneCh   chan struct{}
}

func newWorker(kind WorkerKind, daemon bool, supplier *ThreadSupplier) *Worker {
	id := workerSeq.Add(1)
	return &Worker{
		id:       id,
		kind:     kind,
		daemon:   daemon,
		supplier: supplier,
		alive:    true,
		state:    WorkerRunning,
		name:     fmt.Sprintf("%s - worker %d", supplier.name, id),
		assignCh: make(chan workAssignment),
		doneCh:   make(chan struct{}),
	}
}

// setIndexedName resets a poolable worker's display name when it returns
// to the pool, matching the original's per-park setIndexedName call.
func (w *Worker) setIndexedName() {
	w.mu.Lock()
	w.name = fmt.Sprintf("%s - worker %d", w.supplier.name, w.id)
	w.mu.Unlock()
}

func (w *Worker) Name() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.name
}

func (w *Worker) ID() int64 { return w.id }

func (w *Worker) Kind() WorkerKind { return w.kind }

func (w *Worker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) IsAlive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.alive
}

// markDead marks the worker as retired; the next time its goroutine
// checks alive it will exit instead of parking again.
func (w *Worker) markDead() {
	w.mu.Lock()
	w.alive = false
	w.mu.Unlock()
}
