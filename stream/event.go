// Package stream provides a real-time event broker for spool lifecycle
// events. It bridges the ext.Extension system to connected clients via
// topic-based pub/sub; the API layer drains subscriber channels into
// SSE or WebSocket feeds.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Job events.
	EventJobEnqueued  EventType = "job.enqueued"
	EventJobStarted   EventType = "job.started"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobRetrying  EventType = "job.retrying"
	EventJobDLQ       EventType = "job.dlq"

	// Admission events.
	EventActionRejected EventType = "admission.rejected"

	// Upload events.
	EventUploadCompleted EventType = "upload.completed"

	// Cron events.
	EventCronFired EventType = "cron.fired"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the entity channel this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// JobEventData is the payload for job lifecycle events.
type JobEventData struct {
	JobID     string `json:"job_id"`
	JobName   string `json:"job_name"`
	Queue     string `json:"queue"`
	TenantID  string `json:"tenant_id,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	NextRunAt string `json:"next_run_at,omitempty"`
}

// RejectionEventData is the payload for admission rejection events.
type RejectionEventData struct {
	TenantID string `json:"tenant_id"`
	Action   string `json:"action"`
	Reason   string `json:"reason"`
}

// UploadEventData is the payload for upload lifecycle events.
type UploadEventData struct {
	UploadID    string `json:"upload_id"`
	TenantID    string `json:"tenant_id"`
	TotalChunks int    `json:"total_chunks"`
}

// CronEventData is the payload for cron lifecycle events.
type CronEventData struct {
	EntryName string `json:"entry_name"`
	JobID     string `json:"job_id"`
}
