package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oxlane/spool"
	"github.com/oxlane/spool/backoff"
	"github.com/oxlane/spool/dlq"
	"github.com/oxlane/spool/ext"
	"github.com/oxlane/spool/id"
	"github.com/oxlane/spool/job"
	"github.com/oxlane/spool/middleware"
	"github.com/oxlane/spool/store/memory"
	"github.com/oxlane/spool/worker"
)

func setupTestPool(t *testing.T, concurrency int, pollInterval time.Duration) (
	*worker.Pool, *memory.Store, *job.Registry,
) {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	extensions := ext.NewRegistry(logger)

	dlqSvc := dlq.NewService(s, s)
	bo := backoff.NewConstant(10 * time.Millisecond)

	executor := worker.NewExecutor(
		reg, extensions, s, dlqSvc, bo, logger,
		middleware.Recover(logger),
	)

	pool := worker.NewPool(s, executor, extensions, logger,
		worker.WithPoolConcurrency(concurrency),
		worker.WithPollInterval(pollInterval),
		worker.WithPoolQueues([]string{spool.QueueEmails}),
	)

	return pool, s, reg
}

func enqueueTestJob(t *testing.T, s *memory.Store, name string, payload []byte, maxAttempts int) *job.Job {
	t.Helper()
	j := &job.Job{
		Entity:      spool.NewEntity(),
		ID:          id.NewJobID(),
		Name:        name,
		Queue:       spool.QueueEmails,
		Payload:     payload,
		State:       job.StatePending,
		MaxAttempts: maxAttempts,
		RunAt:       time.Now().UTC(),
	}
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	return j
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func stopPool(t *testing.T, pool *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func TestPool_StartStop(t *testing.T) {
	pool, _, _ := setupTestPool(t, 2, 50*time.Millisecond)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	// Double start should be no-op.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	// Double stop should be no-op.
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestPool_ProcessesJob(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var processed atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition("greet", func(_ context.Context, p struct{ Name string }) error {
		if p.Name != "Alice" {
			t.Errorf("payload.Name = %q, want %q", p.Name, "Alice")
		}
		processed.Store(true)
		return nil
	}))

	payload, _ := json.Marshal(struct{ Name string }{Name: "Alice"})
	j := enqueueTestJob(t, s, "greet", payload, 3)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, "job to be processed", processed.Load)
	stopPool(t, pool)

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if got.State != job.StateCompleted {
		t.Errorf("job state = %q, want %q", got.State, job.StateCompleted)
	}
	if got.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", got.Attempts)
	}
}

func TestPool_TransientFailureRetriesExactlyMaxAttempts(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 5*time.Millisecond)

	var executions atomic.Int64
	job.RegisterDefinition(reg, job.NewDefinition("flaky", func(_ context.Context, _ struct{}) error {
		executions.Add(1)
		return job.Transient(errors.New("smtp 421, try again"))
	}))

	j := enqueueTestJob(t, s, "flaky", nil, 3)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, "terminal failure", func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateFailed
	})
	stopPool(t, pool)

	if got := executions.Load(); got != 3 {
		t.Fatalf("handler ran %d times, want exactly MaxAttempts=3", got)
	}

	// Terminal failure lands in the DLQ.
	entries, err := s.ListDLQ(context.Background(), dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}
	if entries[0].Attempts != 3 {
		t.Errorf("DLQ Attempts = %d, want 3", entries[0].Attempts)
	}
}

func TestPool_PermanentFailureNeverRetries(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 5*time.Millisecond)

	var executions atomic.Int64
	job.RegisterDefinition(reg, job.NewDefinition("broken", func(_ context.Context, _ struct{}) error {
		executions.Add(1)
		return job.Permanent(errors.New("recipient does not exist"))
	}))

	j := enqueueTestJob(t, s, "broken", nil, 3)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, "terminal failure", func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateFailed
	})

	// Give the pool a few more poll cycles to prove no redelivery.
	time.Sleep(50 * time.Millisecond)
	stopPool(t, pool)

	if got := executions.Load(); got != 1 {
		t.Fatalf("handler ran %d times, want exactly 1 for a permanent error", got)
	}
}

func TestPool_FailureHookFiresOncePerTerminalTransition(t *testing.T) {
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	extensions := ext.NewRegistry(logger)
	tracker := &trackingExt{}
	extensions.Register(tracker)

	executor := worker.NewExecutor(reg, extensions, s, dlq.NewService(s, s),
		backoff.NewConstant(time.Millisecond), logger)
	pool := worker.NewPool(s, executor, extensions, logger,
		worker.WithPoolConcurrency(1),
		worker.WithPollInterval(5*time.Millisecond),
		worker.WithPoolQueues([]string{spool.QueueEmails}),
	)

	job.RegisterDefinition(reg, job.NewDefinition("always-fails", func(_ context.Context, _ struct{}) error {
		return errors.New("boom")
	}))

	j := enqueueTestJob(t, s, "always-fails", nil, 2)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, "terminal failure", func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateFailed
	})
	time.Sleep(50 * time.Millisecond)
	stopPool(t, pool)

	if got := tracker.failedCount.Load(); got != 1 {
		t.Fatalf("OnJobFailed fired %d times, want exactly 1", got)
	}
	if got := tracker.retryCount.Load(); got != 1 {
		t.Fatalf("OnJobRetrying fired %d times, want 1 (2 attempts = 1 retry)", got)
	}
}

func TestPool_GracefulShutdown(t *testing.T) {
	pool, _, _ := setupTestPool(t, 4, 50*time.Millisecond)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	// Allow workers to start polling.
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("graceful shutdown failed: %v", err)
	}
}

func TestPool_ExtensionFires(t *testing.T) {
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	extensions := ext.NewRegistry(logger)

	tracker := &trackingExt{}
	extensions.Register(tracker)

	executor := worker.NewExecutor(reg, extensions, s, dlq.NewService(s, s),
		backoff.NewConstant(10*time.Millisecond), logger)
	pool := worker.NewPool(s, executor, extensions, logger,
		worker.WithPoolConcurrency(1),
		worker.WithPollInterval(10*time.Millisecond),
		worker.WithPoolQueues([]string{spool.QueueEmails}),
	)

	var processed atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition("tracked", func(_ context.Context, _ struct{}) error {
		processed.Store(true)
		return nil
	}))

	enqueueTestJob(t, s, "tracked", nil, 3)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, "job to be processed", processed.Load)
	stopPool(t, pool)

	if !tracker.started.Load() {
		t.Error("expected OnJobStarted to fire")
	}
	if !tracker.completed.Load() {
		t.Error("expected OnJobCompleted to fire")
	}
}

func TestPool_ThrottledJobReturnsToPending(t *testing.T) {
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	extensions := ext.NewRegistry(logger)

	executor := worker.NewExecutor(reg, extensions, s, dlq.NewService(s, s),
		backoff.NewConstant(time.Millisecond), logger)
	pool := worker.NewPool(s, executor, extensions, logger,
		worker.WithPoolConcurrency(1),
		worker.WithPollInterval(5*time.Millisecond),
		worker.WithPoolQueues([]string{spool.QueueEmails}),
		worker.WithQueueManager(denyAll{}),
	)

	job.RegisterDefinition(reg, job.NewDefinition("never-runs", func(_ context.Context, _ struct{}) error {
		t.Error("handler must not run while throttled")
		return nil
	}))

	j := enqueueTestJob(t, s, "never-runs", nil, 3)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	stopPool(t, pool)

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if got.State != job.StatePending {
		t.Errorf("job state = %q, want %q (throttled jobs go back to pending)", got.State, job.StatePending)
	}
	if got.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0 (throttling is not an attempt)", got.Attempts)
	}
}

func TestPool_CompletedJobNotResurrectedByStaleReset(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 5*time.Millisecond)

	var executions atomic.Int64
	job.RegisterDefinition(reg, job.NewDefinition("one-shot", func(_ context.Context, _ struct{}) error {
		executions.Add(1)
		return nil
	}))

	j := enqueueTestJob(t, s, "one-shot", nil, 3)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, "completion", func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateCompleted
	})

	// A reaper holding a stale claimed copy tries to return the job to
	// pending after the worker already finished it.
	stale, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	stale.State = job.StatePending
	stale.RunAt = time.Now().UTC()
	stale.WorkerID = id.WorkerID{}
	if err := s.UpdateJob(context.Background(), stale); !errors.Is(err, spool.ErrJobTerminal) {
		t.Fatalf("expected ErrJobTerminal for stale reset, got %v", err)
	}

	// Give the pool a few poll cycles to prove there is no redelivery.
	time.Sleep(50 * time.Millisecond)
	stopPool(t, pool)

	if got := executions.Load(); got != 1 {
		t.Fatalf("handler ran %d times for one logical job, want exactly 1", got)
	}
}

func TestPool_UnregisteredKindFailsIntoDLQ(t *testing.T) {
	pool, s, _ := setupTestPool(t, 1, 5*time.Millisecond)

	// No handler is ever registered for this kind: the job must burn
	// its attempts and land in the DLQ instead of churning forever.
	j := enqueueTestJob(t, s, "nobody-home", nil, 2)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, "terminal failure", func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateFailed
	})
	stopPool(t, pool)

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if got.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", got.Attempts)
	}

	entries, err := s.ListDLQ(context.Background(), dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// denyAll throttles every dequeue.
type denyAll struct{}

func (denyAll) Acquire(_, _ string) bool { return false }
func (denyAll) Release(_, _ string)      {}

// trackingExt records which hooks fired.
type trackingExt struct {
	started     atomic.Bool
	completed   atomic.Bool
	failedCount atomic.Int64
	retryCount  atomic.Int64
}

func (e *trackingExt) Name() string { return "tracker" }

func (e *trackingExt) OnJobStarted(_ context.Context, _ *job.Job) error {
	e.started.Store(true)
	return nil
}

func (e *trackingExt) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.completed.Store(true)
	return nil
}

func (e *trackingExt) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	e.failedCount.Add(1)
	return nil
}

func (e *trackingExt) OnJobRetrying(_ context.Context, _ *job.Job, _ int, _ time.Time) error {
	e.retryCount.Add(1)
	return nil
}
