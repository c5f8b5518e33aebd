package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/concurrency-kit/taskcore/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	taskDurationSeconds *prom.HistogramVec
	taskPanicTotal      *prom.CounterVec
	taskRejectedTotal   *prom.CounterVec
	queueDepth          *prom.GaugeVec
	inFlightCount       *prom.GaugeVec

	supplierRunning  *prom.GaugeVec
	supplierPoolable *prom.GaugeVec
	supplierDetached *prom.GaugeVec
	supplierMaxTotal *prom.GaugeVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "taskcore"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds.",
		Buckets:   buckets,
	}, []string{"runner", "priority"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of task panics.",
	}, []string{"runner"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_rejected_total",
		Help:      "Total number of rejected tasks.",
	}, []string{"runner", "reason"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Current queue depth for a Queued Task Executor.",
	}, []string{"runner"})
	inFlightVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "in_flight_count",
		Help:      "Current number of ASYNC/PURE_ASYNC tasks running for a Queued Task Executor.",
	}, []string{"runner"})

	supplierRunning := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "supplier_running_workers",
		Help:      "Thread Supplier workers currently running.",
	}, []string{"supplier"})
	supplierPoolable := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "supplier_poolable_workers",
		Help:      "Thread Supplier poolable worker count.",
	}, []string{"supplier"})
	supplierDetached := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "supplier_detached_workers",
		Help:      "Thread Supplier detached worker count.",
	}, []string{"supplier"})
	supplierMaxTotal := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "supplier_max_total",
		Help:      "Thread Supplier current adaptive total-worker cap.",
	}, []string{"supplier"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}
	if inFlightVec, err = registerCollector(reg, inFlightVec); err != nil {
		return nil, err
	}
	if supplierRunning, err = registerCollector(reg, supplierRunning); err != nil {
		return nil, err
	}
	if supplierPoolable, err = registerCollector(reg, supplierPoolable); err != nil {
		return nil, err
	}
	if supplierDetached, err = registerCollector(reg, supplierDetached); err != nil {
		return nil, err
	}
	if supplierMaxTotal, err = registerCollector(reg, supplierMaxTotal); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		taskDurationSeconds: durationVec,
		taskPanicTotal:       panicVec,
		taskRejectedTotal:    rejectedVec,
		queueDepth:           queueDepthVec,
		inFlightCount:        inFlightVec,
		supplierRunning:      supplierRunning,
		supplierPoolable:     supplierPoolable,
		supplierDetached:     supplierDetached,
		supplierMaxTotal:     supplierMaxTotal,
	}, nil
}

func (m *MetricsExporter) RecordTaskDuration(runnerName string, priority core.TaskPriority, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskDurationSeconds.WithLabelValues(normalizeLabel(runnerName, "unknown"), priority.String()).Observe(duration.Seconds())
}

func (m *MetricsExporter) RecordTaskPanic(runnerName string, panicInfo any) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(normalizeLabel(runnerName, "unknown")).Inc()
}

func (m *MetricsExporter) RecordTaskRejected(runnerName string, reason string) {
	if m == nil {
		return
	}
	m.taskRejectedTotal.WithLabelValues(normalizeLabel(runnerName, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

func (m *MetricsExporter) RecordQueueDepth(runnerName string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(runnerName, "unknown")).Set(float64(depth))
}

func (m *MetricsExporter) RecordInFlightCount(runnerName string, count int) {
	if m == nil {
		return
	}
	m.inFlightCount.WithLabelValues(normalizeLabel(runnerName, "unknown")).Set(float64(count))
}

func (m *MetricsExporter) RecordSupplierCounts(supplierName string, running, poolable, detached, maxTotal int) {
	if m == nil {
		return
	}
	label := normalizeLabel(supplierName, "unknown")
	m.supplierRunning.WithLabelValues(label).Set(float64(running))
	m.supplierPoolable.WithLabelValues(label).Set(float64(poolable))
	m.supplierDetached.WithLabelValues(label).Set(float64(detached))
	m.supplierMaxTotal.WithLabelValues(label).Set(float64(maxTotal))
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
