package postgres

// migration is one ordered schema change. Statements run outside a
// transaction so CREATE INDEX CONCURRENTLY remains possible later.
type migration struct {
	name       string
	statements []string
}

var migrations = []migration{
	{
		name: "001_create_jobs",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS spool_jobs (
				id              TEXT PRIMARY KEY,
				name            TEXT NOT NULL,
				queue           TEXT NOT NULL DEFAULT 'default',
				tenant_id       TEXT,
				payload         BYTEA NOT NULL,
				state           TEXT NOT NULL DEFAULT 'pending',
				priority        INTEGER NOT NULL DEFAULT 0,
				max_attempts    INTEGER NOT NULL DEFAULT 3,
				attempts        INTEGER NOT NULL DEFAULT 0,
				last_error      TEXT,
				worker_id       TEXT,
				run_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				started_at      TIMESTAMPTZ,
				completed_at    TIMESTAMPTZ,
				heartbeat_at    TIMESTAMPTZ,
				timeout         BIGINT NOT NULL DEFAULT 0,
				created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_spool_jobs_dequeue
				ON spool_jobs (queue, priority DESC, run_at ASC)
				WHERE state IN ('pending', 'retrying')`,
			`CREATE INDEX IF NOT EXISTS idx_spool_jobs_state
				ON spool_jobs (state)`,
			`CREATE INDEX IF NOT EXISTS idx_spool_jobs_heartbeat
				ON spool_jobs (heartbeat_at)
				WHERE state = 'running'`,
		},
	},
	{
		name: "002_create_dlq",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS spool_dlq (
				id              TEXT PRIMARY KEY,
				job_id          TEXT NOT NULL,
				job_name        TEXT NOT NULL,
				queue           TEXT NOT NULL,
				tenant_id       TEXT,
				payload         BYTEA NOT NULL,
				error           TEXT NOT NULL,
				attempts        INTEGER NOT NULL DEFAULT 0,
				max_attempts    INTEGER NOT NULL DEFAULT 0,
				failed_at       TIMESTAMPTZ NOT NULL,
				replayed_at     TIMESTAMPTZ,
				created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_spool_dlq_failed_at
				ON spool_dlq (failed_at)`,
			`CREATE INDEX IF NOT EXISTS idx_spool_dlq_tenant
				ON spool_dlq (tenant_id)`,
		},
	},
	{
		name: "003_create_cron_entries",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS spool_cron_entries (
				id              TEXT PRIMARY KEY,
				name            TEXT NOT NULL UNIQUE,
				schedule        TEXT NOT NULL,
				job_name        TEXT NOT NULL,
				queue           TEXT,
				payload         BYTEA,
				tenant_id       TEXT,
				last_run_at     TIMESTAMPTZ,
				next_run_at     TIMESTAMPTZ,
				locked_by       TEXT,
				locked_until    TIMESTAMPTZ,
				enabled         BOOLEAN NOT NULL DEFAULT TRUE,
				created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
		},
	},
	{
		name: "004_create_workers",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS spool_workers (
				id              TEXT PRIMARY KEY,
				hostname        TEXT NOT NULL,
				queues          TEXT[] NOT NULL DEFAULT '{}',
				concurrency     INTEGER NOT NULL DEFAULT 1,
				state           TEXT NOT NULL DEFAULT 'active',
				is_leader       BOOLEAN NOT NULL DEFAULT FALSE,
				leader_until    TIMESTAMPTZ,
				last_seen       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_spool_workers_last_seen
				ON spool_workers (last_seen)`,
		},
	},
	{
		name: "005_create_upload_sessions",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS spool_upload_sessions (
				id              TEXT PRIMARY KEY,
				tenant_id       TEXT NOT NULL,
				total_chunks    INTEGER NOT NULL,
				state           TEXT NOT NULL DEFAULT 'collecting',
				target_name     TEXT NOT NULL DEFAULT '',
				mime_type       TEXT NOT NULL DEFAULT '',
				folder_id       TEXT NOT NULL DEFAULT '',
				created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE TABLE IF NOT EXISTS spool_upload_chunks (
				upload_id       TEXT NOT NULL REFERENCES spool_upload_sessions(id) ON DELETE CASCADE,
				chunk_no        INTEGER NOT NULL,
				received_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (upload_id, chunk_no)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_spool_upload_sessions_created
				ON spool_upload_sessions (created_at)`,
		},
	},
	{
		name: "006_create_usage_periods",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS spool_usage_periods (
				tenant_id       TEXT NOT NULL,
				period_key      TEXT NOT NULL,
				emails_sent     BIGINT NOT NULL DEFAULT 0,
				emails_received BIGINT NOT NULL DEFAULT 0,
				storage_bytes   BIGINT NOT NULL DEFAULT 0,
				created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (tenant_id, period_key)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_spool_usage_periods_period
				ON spool_usage_periods (period_key)`,
		},
	},
	{
		name: "007_create_rate_windows",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS spool_rate_windows (
				window_key      TEXT NOT NULL,
				window_start    TIMESTAMPTZ NOT NULL,
				count           BIGINT NOT NULL DEFAULT 0,
				expires_at      TIMESTAMPTZ NOT NULL,
				PRIMARY KEY (window_key, window_start)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_spool_rate_windows_expires
				ON spool_rate_windows (expires_at)`,
		},
	},
}
