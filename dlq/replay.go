package dlq

import (
	"context"
	"time"

	"github.com/oxlane/spool"
	"github.com/oxlane/spool/id"
	"github.com/oxlane/spool/job"
)

// Replay re-enqueues a DLQ entry as a new pending job and marks the
// entry as replayed. The new job gets a fresh ID, a zero attempt count,
// and runs immediately.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:      spool.NewEntity(),
		ID:          id.NewJobID(),
		Name:        entry.JobName,
		Queue:       entry.Queue,
		TenantID:    entry.TenantID,
		Payload:     entry.Payload,
		State:       job.StatePending,
		MaxAttempts: entry.MaxAttempts,
		RunAt:       now,
	}

	if err := s.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The job is already enqueued. Log but don't fail.
		return j, err
	}

	return j, nil
}
