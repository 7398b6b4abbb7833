package redis

import "strconv"

// Redis key naming conventions for spool data.
// All keys are prefixed with "spool:" to avoid collisions.

const keyPrefix = "spool:"

// ── Job keys ──

// jobKey returns the key for a job entity: spool:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// queueKey returns the Sorted Set key for a queue: spool:queue:{name}
func queueKey(name string) string { return keyPrefix + "queue:" + name }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// ── Cron keys ──

// cronKey returns the key for a cron entry entity: spool:cron:{id}
func cronKey(id string) string { return keyPrefix + "cron:" + id }

// cronIDsKey is the Set tracking all cron IDs for enumeration.
const cronIDsKey = keyPrefix + "cron_ids"

// cronNamesKey maps cron names to IDs for duplicate detection.
const cronNamesKey = keyPrefix + "cron_names"

// ── DLQ keys ──

// dlqKey returns the key for a DLQ entry entity: spool:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Set tracking all DLQ entry IDs for enumeration.
const dlqIDsKey = keyPrefix + "dlq_ids"

// ── Cluster keys ──

// workerKey returns the key for a worker entity: spool:worker:{id}
func workerKey(id string) string { return keyPrefix + "worker:" + id }

// workerIDsKey is the Set tracking all worker IDs for enumeration.
const workerIDsKey = keyPrefix + "worker_ids"

// leaderKey stores the current leader worker ID.
const leaderKey = keyPrefix + "leader"

// ── Upload keys ──

// sessionKey returns the key for an upload session entity: spool:upload:{id}
func sessionKey(id string) string { return keyPrefix + "upload:" + id }

// sessionChunksKey returns the Set of received chunk numbers for a session.
func sessionChunksKey(id string) string { return keyPrefix + "upload_chunks:" + id }

// sessionStateKey returns the completion-claim key for a session.
func sessionStateKey(id string) string { return keyPrefix + "upload_state:" + id }

// sessionIDsKey is the Set tracking all upload session IDs for enumeration.
const sessionIDsKey = keyPrefix + "upload_ids"

// ── Ledger keys ──

// usageKey returns the Hash key for one usage row: spool:usage:{tenant}:{period}
func usageKey(tenantID, period string) string {
	return keyPrefix + "usage:" + tenantID + ":" + period
}

// usageIDsKey is the Set tracking "tenant|period" members for enumeration.
const usageIDsKey = keyPrefix + "usage_ids"

// ── Rate limit keys ──

// windowKey returns the counter key for a fixed rate-limit window.
func windowKey(key string, windowStartUnix int64) string {
	return keyPrefix + "ratelimit:" + key + ":" + strconv.FormatInt(windowStartUnix, 10)
}
