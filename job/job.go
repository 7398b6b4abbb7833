package job

import (
	"time"

	"github.com/oxlane/spool"
	"github.com/oxlane/spool/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting to be picked up by a worker.
	StatePending State = "pending"
	// StateRunning means a worker is currently executing the job.
	StateRunning State = "running"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job failed and will not be retried.
	StateFailed State = "failed"
	// StateRetrying means the job failed but is scheduled for retry.
	StateRetrying State = "retrying"
)

// Terminal reports whether s is a terminal state. Terminal jobs are
// immutable; the store rejects further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job kind names for the mail/drive core. Handlers for these are
// registered by the tasks package.
const (
	KindSendEmail        = "send_email"
	KindScanFile         = "scan_file"
	KindReassembleUpload = "reassemble_upload"
	KindResetUsage       = "reset_monthly_usage"
	KindCleanupSessions  = "cleanup_expired_sessions"
	KindCleanupTokens    = "cleanup_expired_tokens"
	KindCleanupShares    = "cleanup_expired_shares"
)

// Job represents a unit of work to be processed by a worker.
type Job struct {
	spool.Entity

	ID          id.JobID      `json:"id"`
	Name        string        `json:"name"`
	Queue       string        `json:"queue"`
	TenantID    string        `json:"tenant_id,omitempty"`
	Payload     []byte        `json:"payload"`
	State       State         `json:"state"`
	Priority    int           `json:"priority"`
	MaxAttempts int           `json:"max_attempts"`
	Attempts    int           `json:"attempts"`
	LastError   string        `json:"last_error,omitempty"`
	WorkerID    id.WorkerID   `json:"worker_id,omitempty"`
	RunAt       time.Time     `json:"run_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}
