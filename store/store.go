// Package store defines the aggregate persistence interface. Each subsystem
// (job, dlq, cron, cluster, upload, ledger, ratelimit) defines its own store
// interface. The composite Store composes them all. Backends: Postgres,
// Redis, and Memory.
package store

import (
	"context"

	"github.com/oxlane/spool/cluster"
	"github.com/oxlane/spool/cron"
	"github.com/oxlane/spool/dlq"
	"github.com/oxlane/spool/job"
	"github.com/oxlane/spool/ledger"
	"github.com/oxlane/spool/ratelimit"
	"github.com/oxlane/spool/upload"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (postgres, redis, memory) implements all of them.
type Store interface {
	job.Store
	dlq.Store
	cron.Store
	cluster.Store
	upload.SessionStore
	ledger.Store
	ratelimit.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
