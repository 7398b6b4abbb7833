package cron

import (
	"time"

	"github.com/oxlane/spool"
	"github.com/oxlane/spool/id"
)

// Entry represents a scheduled cron job.
type Entry struct {
	spool.Entity

	ID          id.CronID  `json:"id"`
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	JobName     string     `json:"job_name"`
	Queue       string     `json:"queue,omitempty"`
	Payload     []byte     `json:"payload,omitempty"`
	TenantID    string     `json:"tenant_id,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
	LockedBy    string     `json:"locked_by,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	Enabled     bool       `json:"enabled"`
}
