package prometheus

import (
	"context"
	"testing"
	"time"

	"github.com/concurrency-kit/taskcore/core"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type executorStub struct {
	stats core.ExecutorStats
}

func (s executorStub) Stats() core.ExecutorStats { return s.stats }

type supplierStub struct {
	stats core.SupplierStats
}

func (s supplierStub) Stats() core.SupplierStats { return s.stats }

func TestSnapshotPoller_CollectsExecutorAndSupplierStats(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	poller.AddExecutor("jobs_high", executorStub{stats: core.ExecutorStats{
		Priority:  core.PriorityHigh,
		Queued:    3,
		InFlight:  1,
		Suspended: true,
	}})
	poller.AddSupplier("jobs", supplierStub{stats: core.SupplierStats{
		Running:  2,
		Parked:   4,
		MaxTotal: 12,
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	assertEventually(t, 2*time.Second, func() bool {
		queued := testutil.ToFloat64(poller.executorQueued.WithLabelValues("jobs_high", "high"))
		running := testutil.ToFloat64(poller.supplierRunning.WithLabelValues("jobs"))
		return queued == 3 && running == 2
	})

	if got := testutil.ToFloat64(poller.executorSuspended.WithLabelValues("jobs_high", "high")); got != 1 {
		t.Fatalf("executor suspended gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.supplierMaxTotal.WithLabelValues("jobs")); got != 12 {
		t.Fatalf("supplier max total gauge = %v, want 12", got)
	}
}

func TestSnapshotPoller_StartStop_Idempotent(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller.Start(ctx)
	poller.Start(ctx)
	poller.Stop()
	poller.Stop()
}

func assertEventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
