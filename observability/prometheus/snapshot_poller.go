package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/concurrency-kit/taskcore/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExecutorSnapshotProvider provides current QueuedTaskExecutor stats.
type ExecutorSnapshotProvider interface {
	Stats() core.ExecutorStats
}

// SupplierSnapshotProvider provides current ThreadSupplier stats.
type SupplierSnapshotProvider interface {
	Stats() core.SupplierStats
}

// SnapshotPoller periodically exports Stats() snapshots into Prometheus
// gauges, for values that no Record* call reports as they change (e.g. a
// supplier's parked-worker count, or a worker moving between running and
// parked).
type SnapshotPoller struct {
	interval time.Duration

	executorsMu sync.RWMutex
	executors   map[string]ExecutorSnapshotProvider

	suppliersMu sync.RWMutex
	suppliers   map[string]SupplierSnapshotProvider

	executorQueued    *prom.GaugeVec
	executorInFlight  *prom.GaugeVec
	executorSuspended *prom.GaugeVec

	supplierRunning  *prom.GaugeVec
	supplierParked   *prom.GaugeVec
	supplierMaxTotal *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	executorQueued := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskcore",
		Name:      "executor_queued",
		Help:      "Queued task count snapshot per executor.",
	}, []string{"executor", "priority"})
	executorInFlight := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskcore",
		Name:      "executor_in_flight",
		Help:      "In-flight task count snapshot per executor.",
	}, []string{"executor", "priority"})
	executorSuspended := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskcore",
		Name:      "executor_suspended",
		Help:      "Executor suspension state (1=suspended, 0=draining).",
	}, []string{"executor", "priority"})

	supplierRunning := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskcore",
		Name:      "supplier_running_snapshot",
		Help:      "Thread Supplier running worker count snapshot.",
	}, []string{"supplier"})
	supplierParked := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskcore",
		Name:      "supplier_parked_snapshot",
		Help:      "Thread Supplier parked worker count snapshot.",
	}, []string{"supplier"})
	supplierMaxTotal := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskcore",
		Name:      "supplier_max_total_snapshot",
		Help:      "Thread Supplier adaptive total-worker cap snapshot.",
	}, []string{"supplier"})

	var err error
	if executorQueued, err = registerCollector(reg, executorQueued); err != nil {
		return nil, err
	}
	if executorInFlight, err = registerCollector(reg, executorInFlight); err != nil {
		return nil, err
	}
	if executorSuspended, err = registerCollector(reg, executorSuspended); err != nil {
		return nil, err
	}
	if supplierRunning, err = registerCollector(reg, supplierRunning); err != nil {
		return nil, err
	}
	if supplierParked, err = registerCollector(reg, supplierParked); err != nil {
		return nil, err
	}
	if supplierMaxTotal, err = registerCollector(reg, supplierMaxTotal); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:          interval,
		executors:         make(map[string]ExecutorSnapshotProvider),
		suppliers:         make(map[string]SupplierSnapshotProvider),
		executorQueued:    executorQueued,
		executorInFlight:  executorInFlight,
		executorSuspended: executorSuspended,
		supplierRunning:   supplierRunning,
		supplierParked:    supplierParked,
		supplierMaxTotal:  supplierMaxTotal,
	}, nil
}

// AddExecutor adds or replaces an executor snapshot provider by name.
func (p *SnapshotPoller) AddExecutor(name string, provider ExecutorSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "executor")
	p.executorsMu.Lock()
	p.executors[name] = provider
	p.executorsMu.Unlock()
}

// AddSupplier adds or replaces a supplier snapshot provider by name.
func (p *SnapshotPoller) AddSupplier(name string, provider SupplierSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "supplier")
	p.suppliersMu.Lock()
	p.suppliers[name] = provider
	p.suppliersMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.executorsMu.RLock()
	for name, provider := range p.executors {
		stats := provider.Stats()
		priority := stats.Priority.String()
		p.executorQueued.WithLabelValues(name, priority).Set(float64(stats.Queued))
		p.executorInFlight.WithLabelValues(name, priority).Set(float64(stats.InFlight))
		if stats.Suspended {
			p.executorSuspended.WithLabelValues(name, priority).Set(1)
		} else {
			p.executorSuspended.WithLabelValues(name, priority).Set(0)
		}
	}
	p.executorsMu.RUnlock()

	p.suppliersMu.RLock()
	for name, provider := range p.suppliers {
		stats := provider.Stats()
		p.supplierRunning.WithLabelValues(name).Set(float64(stats.Running))
		p.supplierParked.WithLabelValues(name).Set(float64(stats.Parked))
		p.supplierMaxTotal.WithLabelValues(name).Set(float64(stats.MaxTotal))
	}
	p.suppliersMu.RUnlock()
}
