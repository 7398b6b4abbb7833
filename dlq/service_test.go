package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oxlane/spool"
	spoolDLQ "github.com/oxlane/spool/dlq"
	"github.com/oxlane/spool/id"
	"github.com/oxlane/spool/job"
	"github.com/oxlane/spool/store/memory"
)

func newTestJob(name string, payload []byte) *job.Job {
	now := time.Now().UTC()
	j := &job.Job{
		Entity:      spool.NewEntity(),
		ID:          id.NewJobID(),
		Name:        name,
		Queue:       spool.QueueEmails,
		TenantID:    "tenant_test",
		Payload:     payload,
		State:       job.StateFailed,
		MaxAttempts: 3,
		Attempts:    3,
		LastError:   "test error",
		RunAt:       now,
	}
	return j
}

func TestService_Push_BuildsEntryFromJob(t *testing.T) {
	s := memory.New()
	svc := spoolDLQ.NewService(s, s)
	ctx := context.Background()

	j := newTestJob(job.KindSendEmail, []byte(`{"to":"alice@example.com"}`))
	jobErr := errors.New("smtp timeout")

	if err := svc.Push(ctx, j, jobErr); err != nil {
		t.Fatalf("Push: %v", err)
	}

	// Verify entry in store.
	entries, err := s.ListDLQ(ctx, spoolDLQ.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.JobID != j.ID {
		t.Errorf("JobID = %v, want %v", entry.JobID, j.ID)
	}
	if entry.JobName != job.KindSendEmail {
		t.Errorf("JobName = %q, want %q", entry.JobName, job.KindSendEmail)
	}
	if entry.Queue != spool.QueueEmails {
		t.Errorf("Queue = %q, want %q", entry.Queue, spool.QueueEmails)
	}
	if string(entry.Payload) != `{"to":"alice@example.com"}` {
		t.Errorf("Payload = %q, want %q", entry.Payload, `{"to":"alice@example.com"}`)
	}
	if entry.Error != "smtp timeout" {
		t.Errorf("Error = %q, want %q", entry.Error, "smtp timeout")
	}
	if entry.Attempts != 3 {
		t.Errorf("Attempts = %d, want %d", entry.Attempts, 3)
	}
	if entry.TenantID != "tenant_test" {
		t.Errorf("TenantID = %q, want %q", entry.TenantID, "tenant_test")
	}
	if entry.FailedAt.IsZero() {
		t.Error("expected FailedAt to be set")
	}
	if entry.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestService_Replay_ReEnqueuesJob(t *testing.T) {
	s := memory.New()
	svc := spoolDLQ.NewService(s, s)
	ctx := context.Background()

	original := newTestJob("replay-me", []byte(`{"key":"value"}`))
	if err := svc.Push(ctx, original, errors.New("fail")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := s.ListDLQ(ctx, spoolDLQ.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	entryID := entries[0].ID

	// Replay.
	replayed, err := svc.Replay(ctx, entryID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	// Verify new job.
	if replayed.ID == original.ID {
		t.Error("replayed job should have a new ID")
	}
	if replayed.State != job.StatePending {
		t.Errorf("State = %q, want %q", replayed.State, job.StatePending)
	}
	if replayed.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", replayed.Attempts)
	}
	if replayed.Name != "replay-me" {
		t.Errorf("Name = %q, want %q", replayed.Name, "replay-me")
	}
	if string(replayed.Payload) != `{"key":"value"}` {
		t.Errorf("Payload = %q, want %q", replayed.Payload, `{"key":"value"}`)
	}
	if replayed.TenantID != "tenant_test" {
		t.Errorf("TenantID = %q, want %q", replayed.TenantID, "tenant_test")
	}

	// Verify the job exists in the job store.
	got, err := s.GetJob(ctx, replayed.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StatePending {
		t.Errorf("stored job State = %q, want %q", got.State, job.StatePending)
	}
}

func TestService_Replay_MarksDLQEntryAsReplayed(t *testing.T) {
	s := memory.New()
	svc := spoolDLQ.NewService(s, s)
	ctx := context.Background()

	j := newTestJob("replay-mark", nil)
	if err := svc.Push(ctx, j, errors.New("fail")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := s.ListDLQ(ctx, spoolDLQ.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	entryID := entries[0].ID

	if _, replayErr := svc.Replay(ctx, entryID); replayErr != nil {
		t.Fatalf("Replay: %v", replayErr)
	}

	// Check that ReplayedAt is set.
	entry, err := s.GetDLQ(ctx, entryID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if entry.ReplayedAt == nil {
		t.Error("expected ReplayedAt to be set after replay")
	}
}

func TestService_Replay_NotFoundReturnsError(t *testing.T) {
	s := memory.New()
	svc := spoolDLQ.NewService(s, s)
	ctx := context.Background()

	fakeID := id.NewDLQID()
	_, err := svc.Replay(ctx, fakeID)
	if err == nil {
		t.Fatal("expected error for non-existent DLQ entry")
	}
}
