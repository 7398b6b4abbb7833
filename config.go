package spool

import "time"

// Config holds configuration for the Coordinator.
type Config struct {
	// Concurrency is the maximum number of jobs processed concurrently.
	Concurrency int

	// Queues is the list of queues this process will poll.
	Queues []string

	// PollInterval is how often workers poll for new jobs.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often running jobs send heartbeats.
	HeartbeatInterval time.Duration

	// StaleJobThreshold is the visibility timeout: a claimed job whose
	// heartbeat is older than this becomes pending again and is
	// redelivered to another worker.
	StaleJobThreshold time.Duration

	// SessionTTL is how long an incomplete upload session survives before
	// the periodic cleanup job reclaims it.
	SessionTTL time.Duration
}

// Queue names used by the mail/drive core.
const (
	QueueEmails      = "emails"
	QueueFiles       = "files"
	QueueMaintenance = "maintenance"
)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		Queues:            []string{QueueEmails, QueueFiles, QueueMaintenance},
		PollInterval:      1 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StaleJobThreshold: 30 * time.Second,
		SessionTTL:        24 * time.Hour,
	}
}
