// Package ext defines the extension system for Spool.
// Extensions are notified of lifecycle events (job enqueued, completed,
// failed, upload completed, etc.) and can react to them — logging,
// metrics, alerting, etc.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/oxlane/spool"
	"github.com/oxlane/spool/id"
	"github.com/oxlane/spool/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is successfully enqueued.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins executing a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally (no more attempts).
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when a job fails but is scheduled for retry.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobDLQ is called when a job is moved to the dead letter queue.
type JobDLQ interface {
	OnJobDLQ(ctx context.Context, j *job.Job, err error) error
}

// ──────────────────────────────────────────────────
// Admission and upload hooks
// ──────────────────────────────────────────────────

// ActionRejected is called when a tenant action is refused at admission,
// either by the rate limiter or the quota ledger.
type ActionRejected interface {
	OnActionRejected(ctx context.Context, tenantID, action string, reason spool.RejectReason) error
}

// UploadCompleted is called when the final chunk of an upload session
// arrives and the reassembly job has been enqueued.
type UploadCompleted interface {
	OnUploadCompleted(ctx context.Context, tenantID string, uploadID id.UploadID, totalChunks int) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// CronFired is called when a cron entry fires and enqueues a job.
type CronFired interface {
	OnCronFired(ctx context.Context, entryName string, jobID id.JobID) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
