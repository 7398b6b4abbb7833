package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oxlane/spool"
	"github.com/oxlane/spool/id"
	"github.com/oxlane/spool/job"
)

// EnqueueJob persists a new job in pending state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO spool_jobs (
			id, name, queue, tenant_id, payload, state, priority,
			max_attempts, attempts, last_error, worker_id,
			run_at, started_at, completed_at, heartbeat_at, timeout,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15, $16,
			$17, $18
		)`,
		j.ID.String(), j.Name, j.Queue, j.TenantID, j.Payload, string(j.State),
		j.Priority, j.MaxAttempts, j.Attempts, j.LastError, j.WorkerID.String(),
		j.RunAt, j.StartedAt, j.CompletedAt, j.HeartbeatAt,
		j.Timeout.Nanoseconds(),
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return spool.ErrJobAlreadyExists
		}
		return fmt.Errorf("spool/postgres: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically claims up to limit pending jobs from the given
// queues, sets them to running, and returns them. Uses SELECT FOR UPDATE
// SKIP LOCKED for concurrent-safe dequeue.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		WITH dequeued AS (
			UPDATE spool_jobs
			SET state = 'running', started_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT id FROM spool_jobs
				WHERE state IN ('pending', 'retrying')
				  AND queue = ANY($1)
				  AND run_at <= NOW()
				ORDER BY priority DESC, run_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING
				id, name, queue, tenant_id, payload, state, priority,
				max_attempts, attempts, last_error, worker_id,
				run_at, started_at, completed_at, heartbeat_at, timeout,
				created_at, updated_at
		)
		SELECT * FROM dequeued ORDER BY priority DESC, run_at ASC`,
		queues, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("spool/postgres: dequeue jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, name, queue, tenant_id, payload, state, priority,
			max_attempts, attempts, last_error, worker_id,
			run_at, started_at, completed_at, heartbeat_at, timeout,
			created_at, updated_at
		FROM spool_jobs
		WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, spool.ErrJobNotFound
		}
		return nil, fmt.Errorf("spool/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job. The WHERE clause
// excludes terminal states: a completed or failed row never transitions
// again, no matter how stale the caller's copy is.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE spool_jobs SET
			name = $2, queue = $3, tenant_id = $4, payload = $5,
			state = $6, priority = $7, max_attempts = $8, attempts = $9,
			last_error = $10, worker_id = $11, run_at = $12,
			started_at = $13, completed_at = $14, heartbeat_at = $15,
			timeout = $16, updated_at = NOW()
		WHERE id = $1 AND state NOT IN ($17, $18)`,
		j.ID.String(), j.Name, j.Queue, j.TenantID, j.Payload,
		string(j.State), j.Priority, j.MaxAttempts, j.Attempts,
		j.LastError, j.WorkerID.String(), j.RunAt,
		j.StartedAt, j.CompletedAt, j.HeartbeatAt,
		j.Timeout.Nanoseconds(),
		string(job.StateCompleted), string(job.StateFailed),
	)
	if err != nil {
		return fmt.Errorf("spool/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var state string
		err = s.pool.QueryRow(ctx,
			`SELECT state FROM spool_jobs WHERE id = $1`, j.ID.String(),
		).Scan(&state)
		if err != nil {
			if isNoRows(err) {
				return spool.ErrJobNotFound
			}
			return fmt.Errorf("spool/postgres: update job state check: %w", err)
		}
		return spool.ErrJobTerminal
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM spool_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("spool/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return spool.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs matching the given state.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `
		SELECT
			id, name, queue, tenant_id, payload, state, priority,
			max_attempts, attempts, last_error, worker_id,
			run_at, started_at, completed_at, heartbeat_at, timeout,
			created_at, updated_at
		FROM spool_jobs
		WHERE state = $1`
	args := []any{string(state)}
	argIdx := 2

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("spool/postgres: list jobs by state: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, _ id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE spool_jobs SET heartbeat_at = NOW(), updated_at = NOW() WHERE id = $1`,
		jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("spool/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return spool.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// the given threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id, name, queue, tenant_id, payload, state, priority,
			max_attempts, attempts, last_error, worker_id,
			run_at, started_at, completed_at, heartbeat_at, timeout,
			created_at, updated_at
		FROM spool_jobs
		WHERE state = 'running'
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < NOW() - $1::interval`,
		threshold.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("spool/postgres: reap stale jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM spool_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
	}

	var count int64
	err := s.pool.QueryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("spool/postgres: count jobs: %w", err)
	}
	return count, nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		stateStr  string
		workerStr string
		timeoutNs int64
	)
	err := row.Scan(
		&idStr, &j.Name, &j.Queue, &j.TenantID, &j.Payload, &stateStr,
		&j.Priority, &j.MaxAttempts, &j.Attempts, &j.LastError, &workerStr,
		&j.RunAt, &j.StartedAt, &j.CompletedAt, &j.HeartbeatAt,
		&timeoutNs,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("spool/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		parsedWorker, workerErr := id.ParseWorkerID(workerStr)
		if workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("spool/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("spool/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
