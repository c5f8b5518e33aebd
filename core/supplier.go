package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ThreadSupplier is a hybrid worker pool: a fixed-size pool of reusable
// "poolable" workers backed by a sleeping-slot array, topped up by
// "detached" workers created on demand up to an adaptive cap that grows
// under sustained saturation and decays back down during quiet periods.
// It is a direct port of Burningwave's Thread.Supplier.
type ThreadSupplier struct {
	name   string
	cfg    SupplierConfig
	collab Collaborators
	sync   *Synchronizer

	mu                sync.Mutex
	poolableCount     int
	totalCount        int
	maxTotal          int
	initialMaxTotal   int
	detachedUnbounded bool
	lastGrowth        time.Time
	grown             bool
	takeSweepForward  bool
	parkSweepForward  bool

	slots []atomic.Pointer[Worker]

	running sync.Map // map[int64]*Worker

	availabilityGate *gate
	notifierGate     *gate
	notifierOnce      sync.Once
	notifierStopped   atomic.Bool

	shutdown atomic.Bool
}

// NewThreadSupplier creates a ThreadSupplier from a resolved config.
func NewThreadSupplier(cfg *SupplierConfig, collab Collaborators) *ThreadSupplier {
	collab = collab.WithDefaults()
	s := &ThreadSupplier{
		name:             cfg.Name,
		cfg:              *cfg,
		collab:           collab,
		sync:             NewSynchronizer(),
		availabilityGate: newGate(),
		notifierGate:     newGate(),
		slots:            make([]atomic.Pointer[Worker], cfg.MaxPoolable),
		takeSweepForward: true,
		parkSweepForward: true,
	}
	if cfg.MaxDetachedAdditional < 0 {
		s.detachedUnbounded = true
	} else {
		s.maxTotal = cfg.MaxPoolable + cfg.MaxDetachedAdditional
	}
	s.initialMaxTotal = s.maxTotal
	return s
}

// GetOrCreate returns a Worker ready to receive exactly one Dispatch call.
// It first tries to reclaim a parked poolable worker, then to create a
// fresh poolable or detached worker within the current caps, and only
// waits (growing the detached cap on timeout, decaying it on a timely
// wake after quiescence) when every avenue is saturated.
func (s *ThreadSupplier) GetOrCreate(ctx context.Context) (*Worker, error) {
	for {
		if w := s.takeParked(); w != nil {
			return w, nil
		}

		s.mu.Lock()
		if s.poolableCount < s.cfg.MaxPoolable {
			w := s.newPoolableLocked()
			s.mu.Unlock()
			s.recordCounts()
			return w, nil
		}
		if s.hasDetachedRoomLocked() {
			w := s.newDetachedLocked()
			s.mu.Unlock()
			s.recordCounts()
			return w, nil
		}
		s.mu.Unlock()

		g := s.availabilityGate
		g.Lock()
		if w := s.takeParked(); w != nil {
			g.Unlock()
			return w, nil
		}
		s.mu.Lock()
		room := s.poolableCount < s.cfg.MaxPoolable || s.hasDetachedRoomLocked()
		s.mu.Unlock()
		if room {
			g.Unlock()
			continue
		}

		start := time.Now()
		woke, err := g.WaitCtx(ctx, s.cfg.RequestTimeout)
		g.Unlock()
		if err != nil {
			return nil, &Error{Kind: KindInterruption, Message: "interrupted waiting for a worker", Cause: err}
		}
		elapsed := time.Since(start)

		if s.cfg.IncreasingStep <= 0 {
			continue
		}
		if woke && elapsed < s.cfg.RequestTimeout {
			s.maybeDecay()
		} else {
			s.grow()
		}
	}
}

// Dispatch hands fn to w to run on its goroutine. w must have just been
// returned by GetOrCreate and not yet dispatched to.
func (s *ThreadSupplier) Dispatch(w *Worker, fn func()) {
	w.assignCh <- workAssignment{exec: fn, name: w.Name()}
}

func (s *ThreadSupplier) hasDetachedRoomLocked() bool {
	if s.detachedUnbounded {
		return true
	}
	return s.totalCount < s.maxTotal
}

func (s *ThreadSupplier) newPoolableLocked() *Worker {
	w := newWorker(KindPoolable, s.cfg.Daemon, s)
	s.poolableCount++
	s.totalCount++
	go s.runPoolable(w)
	return w
}

func (s *ThreadSupplier) newDetachedLocked() *Worker {
	w := newWorker(KindDetached, s.cfg.Daemon, s)
	s.totalCount++
	go s.runDetached(w)
	return w
}

func (s *ThreadSupplier) runPoolable(w *Worker) {
	for {
		a, ok := <-w.assignCh
		if !ok || a.exec == nil {
			s.retire(w)
			return
		}
		w.mu.Lock()
		w.state = WorkerRunning
		w.mu.Unlock()

		s.running.Store(w.id, w)
		s.runOne(w, a)
		s.running.Delete(w.id)

		if !w.IsAlive() {
			s.retire(w)
			return
		}
		w.setIndexedName()
		w.mu.Lock()
		w.state = WorkerParked
		w.mu.Unlock()

		if !s.parkWorker(w) {
			w.markDead()
			s.retire(w)
			return
		}
		s.notifyAvailability()
	}
}

func (s *ThreadSupplier) runDetached(w *Worker) {
	a, ok := <-w.assignCh
	if !ok || a.exec == nil {
		s.retire(w)
		return
	}
	s.running.Store(w.id, w)
	s.runOne(w, a)
	s.running.Delete(w.id)
	s.retire(w)
}

func (s *ThreadSupplier) runOne(w *Worker, a workAssignment) {
	defer func() {
		if r := recover(); r != nil {
			s.collab.Logger.Error("worker recovered an escaped panic", F("worker", w.Name()), F("panic", r))
		}
	}()
	a.exec()
}

func (s *ThreadSupplier) retire(w *Worker) {
	s.mu.Lock()
	s.totalCount--
	if w.kind == KindPoolable {
		s.poolableCount--
	}
	s.mu.Unlock()
	close(w.doneCh)
	s.notifyAvailability()
	s.recordCounts()
}

// takeParked scans the sleeping-slot array, alternating sweep direction
// on successive calls, and claims the first worker it finds genuinely
// parked. A slot whose worker is no longer parked (the retrieval
// freshness rule) is treated as defective: the worker is interrupted and
// the scan continues.
func (s *ThreadSupplier) takeParked() *Worker {
	s.mu.Lock()
	forward := s.takeSweepForward
	s.takeSweepForward = !s.takeSweepForward
	n := len(s.slots)
	s.mu.Unlock()

	for i := 0; i < n; i++ {
		idx := i
		if !forward {
			idx = n - 1 - i
		}
		w := s.slots[idx].Load()
		if w == nil {
			continue
		}
		w.mu.Lock()
		if s.slots[idx].Load() == w && w.state == WorkerParked {
			s.slots[idx].Store(nil)
			w.state = WorkerRunning
			w.mu.Unlock()
			return w
		}
		stale := w.state != WorkerParked
		w.mu.Unlock()
		if stale {
			s.collab.Logger.Warn("found non-parked worker in sleeping slot, retiring it", F("worker", w.Name()))
			w.markDead()
			s.slots[idx].CompareAndSwap(w, nil)
		}
	}
	return nil
}

// parkWorker publishes w into the first NULL slot it finds, alternating
// sweep direction on successive calls, guarding each candidate slot with
// a slot-specific keyed mutex from the Synchronizer so concurrent parkers
// don't race on the same index.
func (s *ThreadSupplier) parkWorker(w *Worker) bool {
	s.mu.Lock()
	forward := s.parkSweepForward
	s.parkSweepForward = !s.parkSweepForward
	n := len(s.slots)
	s.mu.Unlock()

	for i := 0; i < n; i++ {
		idx := i
		if !forward {
			idx = n - 1 - i
		}
		if s.slots[idx].Load() != nil {
			continue
		}
		key := fmt.Sprintf("%s_slot_%d", s.name, idx)
		published := false
		s.sync.Execute(key, func() {
			if s.slots[idx].Load() == nil {
				s.slots[idx].Store(w)
				published = true
			}
		})
		if published {
			return true
		}
	}
	return false
}

func (s *ThreadSupplier) grow() {
	s.mu.Lock()
	s.maxTotal += s.cfg.IncreasingStep
	s.lastGrowth = time.Now()
	s.grown = true
	s.mu.Unlock()
	s.recordCounts()
}

func (s *ThreadSupplier) maybeDecay() {
	s.mu.Lock()
	if !s.grown || s.maxTotal <= s.initialMaxTotal {
		s.mu.Unlock()
		return
	}
	if time.Since(s.lastGrowth) <= s.cfg.DecayThreshold {
		s.mu.Unlock()
		return
	}
	s.maxTotal -= s.cfg.IncreasingStep / 2
	if s.maxTotal < s.initialMaxTotal {
		s.maxTotal = s.initialMaxTotal
	}
	s.lastGrowth = time.Now()
	s.grown = s.maxTotal > s.initialMaxTotal
	s.mu.Unlock()
	s.recordCounts()
}

// recordCounts reports the supplier's current composition to Metrics,
// the same running/poolable/detached/maxTotal breakdown Stats exposes,
// called whenever a worker is created or retired and whenever the cap
// grows or decays. A worker moving between running and parked does not
// trigger it.
func (s *ThreadSupplier) recordCounts() {
	running := 0
	s.running.Range(func(_, _ any) bool {
		running++
		return true
	})

	s.mu.Lock()
	poolable := s.poolableCount
	maxTotal := s.maxTotal
	detached := s.totalCount - s.poolableCount
	s.mu.Unlock()

	s.collab.Metrics.RecordSupplierCounts(s.name, running, poolable, detached, maxTotal)
}

// notifyAvailability wakes a lazily-created notifier worker, which in
// turn broadcasts the availability gate. This decouples every worker's
// completion path (which calls notifyAvailability) from direct contention
// on the gate that GetOrCreate's waiters block on.
func (s *ThreadSupplier) notifyAvailability() {
	s.notifierOnce.Do(s.startNotifier)

	s.notifierGate.Lock()
	s.notifierGate.Broadcast()
	s.notifierGate.Unlock()
}

func (s *ThreadSupplier) startNotifier() {
	go func() {
		for {
			s.notifierGate.Lock()
			if s.notifierStopped.Load() {
				s.notifierGate.Unlock()
				return
			}
			s.notifierGate.Wait(0)
			stopped := s.notifierStopped.Load()
			s.notifierGate.Unlock()
			if stopped {
				return
			}
			s.availabilityGate.Lock()
			s.availabilityGate.Broadcast()
			s.availabilityGate.Unlock()
		}
	}()
}

// ShutDownAll retires every parked and running worker and stops the
// notifier. Running workers finish their current assignment and then
// exit instead of parking for reuse.
func (s *ThreadSupplier) ShutDownAll() {
	if !s.shutdown.CompareAndSwap(false, true) {
		return
	}

	for i := range s.slots {
		w := s.slots[i].Swap(nil)
		if w == nil {
			continue
		}
		w.markDead()
		w.assignCh <- workAssignment{}
	}

	s.running.Range(func(_, v any) bool {
		v.(*Worker).markDead()
		return true
	})

	s.notifierStopped.Store(true)
	s.notifierGate.Lock()
	s.notifierGate.Broadcast()
	s.notifierGate.Unlock()

	s.availabilityGate.Lock()
	s.availabilityGate.Broadcast()
	s.availabilityGate.Unlock()
}

// Stats returns a point-in-time snapshot of running/parked worker counts.
func (s *ThreadSupplier) Stats() SupplierStats {
	running := 0
	s.running.Range(func(_, _ any) bool {
		running++
		return true
	})
	parked := 0
	for i := range s.slots {
		if s.slots[i].Load() != nil {
			parked++
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return SupplierStats{
		Name:            s.name,
		Running:         running,
		Parked:          parked,
		MaxPoolable:     s.cfg.MaxPoolable,
		MaxTotal:        s.maxTotal,
		InitialMaxTotal: s.initialMaxTotal,
		TotalCount:      s.totalCount,
		PoolableCount:   s.poolableCount,
	}
}
