package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/oxlane/spool"
	"github.com/oxlane/spool/ext"
	"github.com/oxlane/spool/id"
	"github.com/oxlane/spool/job"
	"github.com/oxlane/spool/observability"
	"github.com/oxlane/spool/store/memory"
)

func newTestMeter(t *testing.T) (*sdkmetric.ManualReader, *observability.MetricsExtension) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	e, err := observability.NewMetricsExtension(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetricsExtension: %v", err)
	}
	return reader, e
}

func newTestJob() *job.Job {
	return &job.Job{
		Entity: spool.NewEntity(),
		ID:     id.NewJobID(),
		Name:   job.KindSendEmail,
		Queue:  spool.QueueEmails,
		State:  job.StatePending,
	}
}

// counterValue sums all data points of the named Int64 counter.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s: unexpected data type %T", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestMetricsExtension_Name(t *testing.T) {
	_, e := newTestMeter(t)
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_JobLifecycle(t *testing.T) {
	reader, e := newTestMeter(t)
	ctx := context.Background()
	j := newTestJob()

	if err := e.OnJobEnqueued(ctx, j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}
	if err := e.OnJobCompleted(ctx, j, 100*time.Millisecond); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
	if err := e.OnJobRetrying(ctx, j, 1, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("OnJobRetrying: %v", err)
	}
	if err := e.OnJobFailed(ctx, j, errors.New("boom")); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}
	if err := e.OnJobDLQ(ctx, j, errors.New("terminal")); err != nil {
		t.Fatalf("OnJobDLQ: %v", err)
	}

	for _, name := range []string{
		"spool.jobs.enqueued",
		"spool.jobs.succeeded",
		"spool.jobs.retried",
		"spool.jobs.failed",
		"spool.jobs.dlq",
	} {
		if got := counterValue(t, reader, name); got != 1 {
			t.Errorf("%s: want 1, got %d", name, got)
		}
	}
}

func TestMetricsExtension_JobDurationHistogram(t *testing.T) {
	reader, e := newTestMeter(t)

	if err := e.OnJobCompleted(context.Background(), newTestJob(), 250*time.Millisecond); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "spool.job.duration" {
				continue
			}
			hist, ok := m.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("unexpected data type %T", m.Data)
			}
			for _, dp := range hist.DataPoints {
				found = true
				if dp.Count != 1 {
					t.Errorf("duration count = %d, want 1", dp.Count)
				}
				if dp.Sum < 0.2 || dp.Sum > 0.3 {
					t.Errorf("duration sum = %v, want ~0.25s", dp.Sum)
				}
			}
		}
	}
	if !found {
		t.Fatal("spool.job.duration histogram not recorded")
	}
}

func TestMetricsExtension_AdmissionAndUploadHooks(t *testing.T) {
	reader, e := newTestMeter(t)
	ctx := context.Background()

	if err := e.OnActionRejected(ctx, "tenant-a", "send_email", spool.ReasonRateLimited); err != nil {
		t.Fatalf("OnActionRejected: %v", err)
	}
	if err := e.OnUploadCompleted(ctx, "tenant-a", id.NewUploadID(), 4); err != nil {
		t.Fatalf("OnUploadCompleted: %v", err)
	}
	if err := e.OnCronFired(ctx, "monthly-usage-reset", id.NewJobID()); err != nil {
		t.Fatalf("OnCronFired: %v", err)
	}

	checks := map[string]int64{
		"spool.actions.rejected":  1,
		"spool.uploads.completed": 1,
		"spool.cron.fired":        1,
	}
	for name, want := range checks {
		if got := counterValue(t, reader, name); got != want {
			t.Errorf("%s: want %d, got %d", name, want, got)
		}
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	reader, e := newTestMeter(t)

	reg := ext.NewRegistry(slog.Default())
	reg.Register(e)

	ctx := context.Background()
	j := newTestJob()

	reg.EmitJobEnqueued(ctx, j)
	reg.EmitJobCompleted(ctx, j, 50*time.Millisecond)
	reg.EmitJobFailed(ctx, j, errors.New("fail"))
	reg.EmitJobRetrying(ctx, j, 1, time.Now())
	reg.EmitJobDLQ(ctx, j, errors.New("dead"))
	reg.EmitActionRejected(ctx, "tenant-a", "send_email", spool.ReasonQuotaExceeded)
	reg.EmitUploadCompleted(ctx, "tenant-a", id.NewUploadID(), 8)
	reg.EmitCronFired(ctx, "hourly-session-cleanup", id.NewJobID())

	for _, name := range []string{
		"spool.jobs.enqueued",
		"spool.jobs.succeeded",
		"spool.jobs.failed",
		"spool.jobs.retried",
		"spool.jobs.dlq",
		"spool.actions.rejected",
		"spool.uploads.completed",
		"spool.cron.fired",
	} {
		if got := counterValue(t, reader, name); got != 1 {
			t.Errorf("%s: want 1, got %d", name, got)
		}
	}
}

func TestRegisterQueueDepth(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	s := memory.New()
	ctx := context.Background()
	for range 3 {
		j := newTestJob()
		j.ID = id.NewJobID()
		j.RunAt = time.Now().UTC()
		j.MaxAttempts = 3
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}

	if err := observability.RegisterQueueDepth(provider.Meter("test"), s, []string{spool.QueueEmails}); err != nil {
		t.Fatalf("RegisterQueueDepth: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	var got int64 = -1
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "spool.queue.depth" {
				continue
			}
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", m.Data)
			}
			for _, dp := range gauge.DataPoints {
				got = dp.Value
			}
		}
	}
	if got != 3 {
		t.Errorf("queue depth = %d, want 3", got)
	}
}
