package cluster

import (
	"time"

	"github.com/oxlane/spool/id"
)

// WorkerState represents the lifecycle state of a worker.
type WorkerState string

const (
	// WorkerActive means the worker is healthy and processing jobs.
	WorkerActive WorkerState = "active"
	// WorkerDraining means the worker is finishing in-flight jobs
	// but not accepting new ones (graceful shutdown).
	WorkerDraining WorkerState = "draining"
	// WorkerDead means the worker has stopped responding and should
	// have its jobs reclaimed.
	WorkerDead WorkerState = "dead"
)

// Worker represents a spool instance in a distributed cluster.
type Worker struct {
	ID          id.WorkerID `json:"id"`
	Hostname    string      `json:"hostname"`
	Queues      []string    `json:"queues"`
	Concurrency int         `json:"concurrency"`
	State       WorkerState `json:"state"`
	IsLeader    bool        `json:"is_leader"`
	LeaderUntil *time.Time  `json:"leader_until,omitempty"`
	LastSeen    time.Time   `json:"last_seen"`
	CreatedAt   time.Time   `json:"created_at"`
}
