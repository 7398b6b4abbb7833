// Package cluster provides distributed worker coordination: worker
// registration, liveness tracking, and TTL-based leader election.
//
// When running multiple spool instances, the cluster package coordinates
// which instance is the leader. The leader fires cron entries; followers
// process jobs but never tick the schedule, so periodic jobs fire
// at most once per due time across the fleet.
//
// # Worker Entity
//
// Each running instance registers itself as a [Worker] with:
//   - a unique [id.WorkerID]
//   - its hostname
//   - the list of queues it polls
//   - its concurrency limit
//   - a state: [WorkerActive], [WorkerDraining], or [WorkerDead]
//
// Workers send periodic heartbeats. If a heartbeat is not received within
// the configured threshold, the worker is considered dead; its claimed
// jobs are recovered by the job store's stale-job reaper.
//
// # Leader Election
//
// One worker at a time holds leadership, managed by
// [Store.AcquireLeadership] with a TTL and optimistic locking. A leader
// that stops renewing loses the lease and another instance takes over.
// If leadership is lost mid-operation, [spool.ErrLeadershipLost] is
// returned.
package cluster
