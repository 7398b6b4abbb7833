// Package cron provides distributed cron scheduling with leader election.
//
// Cron entries are stored in the database and fired only by the cluster
// leader. This guarantees at-most-once firing even when multiple spool
// instances are running.
//
// # Entry
//
// An [Entry] represents a recurring job schedule:
//   - Schedule: standard cron expression or descriptor ("0 0 1 * *", "@hourly")
//   - JobName: the registered job definition to enqueue when fired
//   - Queue: target queue (defaults to "maintenance")
//   - Payload: static JSON payload passed to every triggered job
//   - TenantID: optional tenant scoping; empty for system maintenance crons
//   - Enabled: whether the entry fires
//   - LockedBy / LockedUntil: distributed lock fields (managed internally)
//
// # The maintenance schedule
//
// engine.Build registers the fixed maintenance entries at startup:
//
//	reset_monthly_usage       0 0 1 * *   zero every tenant's usage counters
//	cleanup_expired_sessions  @hourly     reclaim abandoned upload sessions
//	cleanup_expired_tokens    @daily      purge expired auth tokens
//	cleanup_expired_shares    @daily      purge expired share links
//
// # Scheduler
//
// The [Scheduler] evaluates due entries on every tick, acquires a
// distributed lock on each entry, enqueues the corresponding job, and
// updates LastRunAt and NextRunAt. The [ext.CronFired] extension hook
// fires after each enqueue.
package cron
