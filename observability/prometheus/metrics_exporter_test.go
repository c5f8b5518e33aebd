package prometheus

import (
	"testing"
	"time"

	"github.com/concurrency-kit/taskcore/core"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsExporter_RecordMethods(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("taskcore", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	exporter.RecordTaskDuration("executor-a", core.PriorityHigh, 250*time.Millisecond)
	exporter.RecordTaskPanic("executor-a", "panic")
	exporter.RecordQueueDepth("executor-a", 7)
	exporter.RecordInFlightCount("executor-a", 3)
	exporter.RecordTaskRejected("executor-a", "terminated")
	exporter.RecordSupplierCounts("supplier-a", 2, 4, 1, 12)

	panicTotal := testutil.ToFloat64(exporter.taskPanicTotal.WithLabelValues("executor-a"))
	if panicTotal != 1 {
		t.Fatalf("panic total = %v, want 1", panicTotal)
	}

	queueDepth := testutil.ToFloat64(exporter.queueDepth.WithLabelValues("executor-a"))
	if queueDepth != 7 {
		t.Fatalf("queue depth = %v, want 7", queueDepth)
	}

	inFlight := testutil.ToFloat64(exporter.inFlightCount.WithLabelValues("executor-a"))
	if inFlight != 3 {
		t.Fatalf("in-flight count = %v, want 3", inFlight)
	}

	rejected := testutil.ToFloat64(exporter.taskRejectedTotal.WithLabelValues("executor-a", "terminated"))
	if rejected != 1 {
		t.Fatalf("rejected total = %v, want 1", rejected)
	}

	if got := testutil.ToFloat64(exporter.supplierRunning.WithLabelValues("supplier-a")); got != 2 {
		t.Fatalf("supplier running = %v, want 2", got)
	}
	if got := testutil.ToFloat64(exporter.supplierMaxTotal.WithLabelValues("supplier-a")); got != 12 {
		t.Fatalf("supplier max total = %v, want 12", got)
	}

	histCount, err := histogramSampleCount(exporter.taskDurationSeconds.WithLabelValues("executor-a", core.PriorityHigh.String()))
	if err != nil {
		t.Fatalf("histogramSampleCount failed: %v", err)
	}
	if histCount != 1 {
		t.Fatalf("duration sample count = %d, want 1", histCount)
	}
}

func TestMetricsExporter_AlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewMetricsExporter("taskcore", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("first NewMetricsExporter failed: %v", err)
	}
	second, err := NewMetricsExporter("taskcore", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("second NewMetricsExporter failed: %v", err)
	}

	first.RecordTaskPanic("executor-a", nil)
	second.RecordTaskPanic("executor-a", nil)

	got := testutil.ToFloat64(first.taskPanicTotal.WithLabelValues("executor-a"))
	if got != 2 {
		t.Fatalf("shared panic counter = %v, want 2", got)
	}
}

func histogramSampleCount(observer prom.Observer) (uint64, error) {
	collector, ok := observer.(prom.Collector)
	if !ok {
		return 0, nil
	}

	metricCh := make(chan prom.Metric, 1)
	collector.Collect(metricCh)
	close(metricCh)
	for metric := range metricCh {
		msg := &dto.Metric{}
		if err := metric.Write(msg); err != nil {
			return 0, err
		}
		if msg.Histogram != nil {
			return msg.Histogram.GetSampleCount(), nil
		}
	}
	return 0, nil
}
