package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/oxlane/spool"
	"github.com/oxlane/spool/ext"
	"github.com/oxlane/spool/id"
	"github.com/oxlane/spool/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension       = (*MetricsExtension)(nil)
	_ ext.JobEnqueued     = (*MetricsExtension)(nil)
	_ ext.JobCompleted    = (*MetricsExtension)(nil)
	_ ext.JobFailed       = (*MetricsExtension)(nil)
	_ ext.JobRetrying     = (*MetricsExtension)(nil)
	_ ext.JobDLQ          = (*MetricsExtension)(nil)
	_ ext.ActionRejected  = (*MetricsExtension)(nil)
	_ ext.UploadCompleted = (*MetricsExtension)(nil)
	_ ext.CronFired       = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via an
// OpenTelemetry Meter. Register it as a Spool extension to automatically
// track enqueue rates, completion counts, failure rates, retry counts,
// DLQ entries, admission rejections, upload completions, and cron fires.
type MetricsExtension struct {
	jobsEnqueued    metric.Int64Counter
	jobsSucceeded   metric.Int64Counter
	jobsFailed      metric.Int64Counter
	jobsRetried     metric.Int64Counter
	jobsDLQ         metric.Int64Counter
	actionsRejected metric.Int64Counter
	uploadsComplete metric.Int64Counter
	cronFired       metric.Int64Counter
	jobDuration     metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the given meter.
func NewMetricsExtension(meter metric.Meter) (*MetricsExtension, error) {
	m := &MetricsExtension{}
	var err error

	if m.jobsEnqueued, err = meter.Int64Counter("spool.jobs.enqueued",
		metric.WithDescription("Jobs accepted into a queue")); err != nil {
		return nil, fmt.Errorf("observability: jobs.enqueued: %w", err)
	}
	if m.jobsSucceeded, err = meter.Int64Counter("spool.jobs.succeeded",
		metric.WithDescription("Jobs that completed successfully")); err != nil {
		return nil, fmt.Errorf("observability: jobs.succeeded: %w", err)
	}
	if m.jobsFailed, err = meter.Int64Counter("spool.jobs.failed",
		metric.WithDescription("Jobs that failed terminally")); err != nil {
		return nil, fmt.Errorf("observability: jobs.failed: %w", err)
	}
	if m.jobsRetried, err = meter.Int64Counter("spool.jobs.retried",
		metric.WithDescription("Job attempts scheduled for retry")); err != nil {
		return nil, fmt.Errorf("observability: jobs.retried: %w", err)
	}
	if m.jobsDLQ, err = meter.Int64Counter("spool.jobs.dlq",
		metric.WithDescription("Jobs moved to the dead letter queue")); err != nil {
		return nil, fmt.Errorf("observability: jobs.dlq: %w", err)
	}
	if m.actionsRejected, err = meter.Int64Counter("spool.actions.rejected",
		metric.WithDescription("Actions rejected at admission")); err != nil {
		return nil, fmt.Errorf("observability: actions.rejected: %w", err)
	}
	if m.uploadsComplete, err = meter.Int64Counter("spool.uploads.completed",
		metric.WithDescription("Upload sessions that received all chunks")); err != nil {
		return nil, fmt.Errorf("observability: uploads.completed: %w", err)
	}
	if m.cronFired, err = meter.Int64Counter("spool.cron.fired",
		metric.WithDescription("Cron entries fired")); err != nil {
		return nil, fmt.Errorf("observability: cron.fired: %w", err)
	}
	if m.jobDuration, err = meter.Float64Histogram("spool.job.duration",
		metric.WithDescription("Job execution duration"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("observability: job.duration: %w", err)
	}

	return m, nil
}

// RegisterQueueDepth registers an observable gauge reporting the number
// of pending jobs per queue. Pass the queues worth watching.
func RegisterQueueDepth(meter metric.Meter, store job.Store, queues []string) error {
	depth, err := meter.Int64ObservableGauge("spool.queue.depth",
		metric.WithDescription("Pending jobs per queue"))
	if err != nil {
		return fmt.Errorf("observability: queue.depth: %w", err)
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		for _, q := range queues {
			n, countErr := store.CountJobs(ctx, job.CountOpts{Queue: q, State: job.StatePending})
			if countErr != nil {
				return countErr
			}
			o.ObserveInt64(depth, n, metric.WithAttributes(attribute.String("queue", q)))
		}
		return nil
	}, depth)
	if err != nil {
		return fmt.Errorf("observability: queue.depth callback: %w", err)
	}
	return nil
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("kind", j.Name),
		attribute.String("queue", j.Queue),
	)
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.jobsEnqueued.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.jobsSucceeded.Add(ctx, 1, jobAttrs(j))
	m.jobDuration.Record(ctx, elapsed.Seconds(), jobAttrs(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.jobsFailed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.jobsRetried.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobDLQ implements ext.JobDLQ.
func (m *MetricsExtension) OnJobDLQ(ctx context.Context, j *job.Job, _ error) error {
	m.jobsDLQ.Add(ctx, 1, jobAttrs(j))
	return nil
}

// ── Admission and upload hooks ──────────────────────

// OnActionRejected implements ext.ActionRejected.
func (m *MetricsExtension) OnActionRejected(ctx context.Context, _, action string, reason spool.RejectReason) error {
	m.actionsRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("reason", string(reason)),
	))
	return nil
}

// OnUploadCompleted implements ext.UploadCompleted.
func (m *MetricsExtension) OnUploadCompleted(ctx context.Context, _ string, _ id.UploadID, totalChunks int) error {
	m.uploadsComplete.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("total_chunks", totalChunks),
	))
	return nil
}

// ── Cron lifecycle hooks ────────────────────────────

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(ctx context.Context, entryName string, _ id.JobID) error {
	m.cronFired.Add(ctx, 1, metric.WithAttributes(attribute.String("entry", entryName)))
	return nil
}
