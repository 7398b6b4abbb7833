package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/oxlane/spool"
	"github.com/oxlane/spool/id"
	"github.com/oxlane/spool/job"
)

const (
	updateMissing  int64 = -1
	updateTerminal int64 = 0
)

// updateJobScript writes the job hash only when the current state is
// non-terminal, keeping the queue sorted set in step. A completed or
// failed row never transitions again, even from a stale caller.
var updateJobScript = goredis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then return -1 end
if state == 'completed' or state == 'failed' then return 0 end
for i = 4, #ARGV, 2 do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
if ARGV[2] == '1' then
	redis.call('ZADD', KEYS[2], tonumber(ARGV[3]), ARGV[1])
else
	redis.call('ZREM', KEYS[2], ARGV[1])
end
return 1
`)

// EnqueueJob stores the job as a Hash and adds it to the queue's Sorted Set.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	// Check for duplicate.
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("spool/redis: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return spool.ErrJobAlreadyExists
	}

	fields := jobToMap(j)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.SAdd(ctx, jobIDsKey, jID)

	// Add to queue sorted set: score = priority (negated for DESC) + time component.
	score := jobScore(j.Priority, j.RunAt)
	pipe.ZAdd(ctx, queueKey(j.Queue), goredis.Z{Score: score, Member: jID})

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("spool/redis: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically pops up to limit due jobs from the given queues.
// Jobs whose RunAt is in the future are put back and skipped.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	now := time.Now().UTC()
	var jobs []*job.Job

	for _, q := range queues {
		if len(jobs) >= limit {
			break
		}
		remaining := limit - len(jobs)
		qk := queueKey(q)

		// Pop from sorted set (lowest score = highest priority + earliest RunAt).
		members, err := s.client.ZPopMin(ctx, qk, int64(remaining)).Result()
		if err != nil {
			return nil, fmt.Errorf("spool/redis: dequeue zpopmin: %w", err)
		}

		for _, z := range members {
			jID, ok := z.Member.(string)
			if !ok {
				continue
			}

			key := jobKey(jID)
			j, getErr := s.getJobByKey(ctx, key)
			if getErr != nil {
				continue // job hash gone; drop the stale queue member
			}

			// Not due yet (delayed retry): put it back and move on.
			if !j.RunAt.IsZero() && j.RunAt.After(now) {
				if zErr := s.client.ZAdd(ctx, qk, z).Err(); zErr != nil {
					return nil, fmt.Errorf("spool/redis: dequeue requeue: %w", zErr)
				}
				continue
			}

			if _, hErr := s.client.HSet(ctx, key,
				"state", string(job.StateRunning),
				"started_at", now.Format(time.RFC3339Nano),
				"updated_at", now.Format(time.RFC3339Nano),
			).Result(); hErr != nil {
				return nil, fmt.Errorf("spool/redis: dequeue update: %w", hErr)
			}

			j.State = job.StateRunning
			started := now
			j.StartedAt = &started
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := s.getJobByKey(ctx, jobKey(jobID.String()))
	if err != nil {
		return nil, err
	}
	return j, nil
}

// UpdateJob persists changes to an existing job and keeps the queue
// sorted set consistent with the job's state. Jobs in a terminal state
// are immutable; updating one returns spool.ErrJobTerminal.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	fields := jobToMap(j)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	argv := make([]any, 0, 3+2*len(fields))
	requeue := 0
	if j.State == job.StatePending || j.State == job.StateRetrying {
		requeue = 1
	}
	argv = append(argv, jID, requeue, strconv.FormatFloat(jobScore(j.Priority, j.RunAt), 'g', -1, 64))
	for f, v := range fields {
		argv = append(argv, f, v)
	}

	res, err := updateJobScript.Run(ctx, s.client,
		[]string{key, queueKey(j.Queue)}, argv...,
	).Int64()
	if err != nil {
		return fmt.Errorf("spool/redis: update job: %w", err)
	}
	switch res {
	case updateMissing:
		return spool.ErrJobNotFound
	case updateTerminal:
		return spool.ErrJobTerminal
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)

	// Get queue name before deleting to remove from sorted set.
	q, err := s.client.HGet(ctx, key, "queue").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return spool.ErrJobNotFound
		}
		return fmt.Errorf("spool/redis: delete job get queue: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, jobIDsKey, jID)
	pipe.ZRem(ctx, queueKey(q), jID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("spool/redis: delete job: %w", err)
	}
	return nil
}

// ListJobsByState returns jobs matching the given state.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("spool/redis: list jobs smembers: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		jobs = append(jobs, j)
	}

	// Apply offset/limit.
	if opts.Offset > 0 && opts.Offset < len(jobs) {
		jobs = jobs[opts.Offset:]
	} else if opts.Offset >= len(jobs) && opts.Offset > 0 {
		return nil, nil
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	key := jobKey(jobID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("spool/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return spool.ErrJobNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.client.HSet(ctx, key,
		"heartbeat_at", now,
		"worker_id", workerID.String(),
		"updated_at", now,
	).Result()
	if err != nil {
		return fmt.Errorf("spool/redis: heartbeat job: %w", err)
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than the threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("spool/redis: reap smembers: %w", err)
	}

	var stale []*job.Job
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if j.State != job.StateRunning {
			continue
		}
		if j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("spool/redis: count smembers: %w", err)
	}

	var count int64
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		count++
	}
	return count, nil
}

// ── helpers ──

// jobScore computes a sorted-set score from priority and run_at.
// Lower score = dequeued first.
// We negate priority so higher priority = lower score.
func jobScore(priority int, runAt time.Time) float64 {
	// Add a fractional time component for FIFO within same priority.
	return float64(-priority) + float64(runAt.UnixMilli())/1e15
}

func jobToMap(j *job.Job) map[string]any {
	m := map[string]any{
		"id":           j.ID.String(),
		"name":         j.Name,
		"queue":        j.Queue,
		"tenant_id":    j.TenantID,
		"payload":      string(j.Payload),
		"state":        string(j.State),
		"priority":     strconv.Itoa(j.Priority),
		"max_attempts": strconv.Itoa(j.MaxAttempts),
		"attempts":     strconv.Itoa(j.Attempts),
		"last_error":   j.LastError,
		"worker_id":    j.WorkerID.String(),
		"run_at":       j.RunAt.Format(time.RFC3339Nano),
		"timeout":      strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":   j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339Nano)
	}
	if j.HeartbeatAt != nil {
		m["heartbeat_at"] = j.HeartbeatAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("spool/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, spool.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("spool/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])           //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])    //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["attempts"])           //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	runAt, _ := time.Parse(time.RFC3339Nano, m["run_at"])         //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: spool.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:          jID,
		Name:        m["name"],
		Queue:       m["queue"],
		TenantID:    m["tenant_id"],
		Payload:     []byte(m["payload"]),
		State:       job.State(m["state"]),
		Priority:    priority,
		MaxAttempts: maxAttempts,
		Attempts:    attempts,
		LastError:   m["last_error"],
		RunAt:       runAt,
		Timeout:     time.Duration(timeout),
	}

	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.StartedAt = &t
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.CompletedAt = &t
	}
	if v := m["heartbeat_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.HeartbeatAt = &t
	}

	return j, nil
}
