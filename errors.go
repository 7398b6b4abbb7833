package spool

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Store errors.
	ErrNoStore         = errors.New("spool: no store configured")
	ErrStoreClosed     = errors.New("spool: store closed")
	ErrMigrationFailed = errors.New("spool: migration failed")

	// Not found errors.
	ErrJobNotFound     = errors.New("spool: job not found")
	ErrSessionNotFound = errors.New("spool: upload session not found")
	ErrUsageNotFound   = errors.New("spool: usage period not found")
	ErrCronNotFound    = errors.New("spool: cron entry not found")
	ErrDLQNotFound     = errors.New("spool: dlq entry not found")
	ErrWorkerNotFound  = errors.New("spool: worker not found")
	ErrFileNotFound    = errors.New("spool: file not found")

	// Conflict errors.
	ErrJobAlreadyExists     = errors.New("spool: job already exists")
	ErrSessionAlreadyExists = errors.New("spool: upload session already exists")
	ErrDuplicateCron        = errors.New("spool: duplicate cron entry")

	// State errors.
	ErrInvalidState       = errors.New("spool: invalid state transition")
	ErrJobTerminal        = errors.New("spool: job is in a terminal state")
	ErrMaxAttemptsReached = errors.New("spool: max attempts reached")
	ErrChunkOutOfRange    = errors.New("spool: chunk number out of range")

	// Cluster errors.
	ErrLeadershipLost = errors.New("spool: leadership lost")
	ErrNotLeader      = errors.New("spool: not the leader")
)

// RejectReason is the machine-readable cause of a submission-time rejection.
type RejectReason string

const (
	// ReasonRateLimited means the tenant exceeded its per-window rate limit.
	ReasonRateLimited RejectReason = "rate_limited"
	// ReasonQuotaExceeded means the tenant exceeded a monthly quota.
	ReasonQuotaExceeded RejectReason = "quota_exceeded"
)

// RejectedError is returned synchronously when an action is refused at
// submission time. Rejected actions are never enqueued.
type RejectedError struct {
	// Reason is the machine-readable rejection cause.
	Reason RejectReason
	// TenantID is the tenant whose limit was hit.
	TenantID string
	// RetryAfter hints when the caller may retry. Zero means unknown
	// (e.g. a monthly quota that resets at the period boundary).
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RejectedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("spool: action rejected for tenant %s: %s (retry after %s)",
			e.TenantID, e.Reason, e.RetryAfter)
	}
	return fmt.Sprintf("spool: action rejected for tenant %s: %s", e.TenantID, e.Reason)
}

// IsRejected reports whether err is a submission-time rejection, and if so
// returns it.
func IsRejected(err error) (*RejectedError, bool) {
	var re *RejectedError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
