package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oxlane/spool"
	"github.com/oxlane/spool/engine"
	"github.com/oxlane/spool/id"
	"github.com/oxlane/spool/job"
	"github.com/oxlane/spool/ledger"
	"github.com/oxlane/spool/plan"
	"github.com/oxlane/spool/store/memory"
	"github.com/oxlane/spool/tasks"
	"github.com/oxlane/spool/upload"
)

func newEngine(t *testing.T, opts ...engine.Option) (*engine.Engine, *memory.Store) {
	t.Helper()

	s := memory.New()
	c, err := spool.New(
		spool.WithStore(s),
		spool.WithConcurrency(2),
		spool.WithPollInterval(10*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("spool.New: %v", err)
	}

	opts = append(opts, engine.WithChunkStore(upload.NewDiskChunkStore(t.TempDir())))
	eng, err := engine.Build(c, opts...)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	return eng, s
}

var freeTenant = engine.Tenant{ID: "tenant-1", Plan: plan.Free}

func emailPayload(t *testing.T) []byte {
	t.Helper()
	data, err := json.Marshal(tasks.Email{From: "a@example.com", To: []string{"b@example.com"}, Subject: "hi"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func TestBuild_WiresSubsystems(t *testing.T) {
	eng, s := newEngine(t)

	if eng.Ledger() == nil || eng.Limiter() == nil || eng.Reassembler() == nil || eng.Scheduler() == nil {
		t.Fatal("Build left a subsystem nil")
	}

	// Build registers this process in the cluster store.
	workers, err := s.ListWorkers(context.Background())
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(workers) != 1 {
		t.Fatalf("got %d workers, want 1", len(workers))
	}
}

func TestSubmitAction_EnqueuesAndDebitsQuota(t *testing.T) {
	eng, s := newEngine(t)
	ctx := context.Background()

	jobID, err := eng.SubmitAction(ctx, freeTenant, job.KindSendEmail, emailPayload(t))
	if err != nil {
		t.Fatalf("SubmitAction: %v", err)
	}

	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Queue != spool.QueueEmails {
		t.Errorf("Queue = %q, want %q", j.Queue, spool.QueueEmails)
	}
	if j.TenantID != freeTenant.ID {
		t.Errorf("TenantID = %q, want %q", j.TenantID, freeTenant.ID)
	}
	if j.State != job.StatePending {
		t.Errorf("State = %q, want %q", j.State, job.StatePending)
	}

	u, err := eng.Ledger().Usage(ctx, freeTenant.ID)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if got := u.Get(ledger.FieldEmailsSent); got != 1 {
		t.Errorf("emails_sent = %d, want 1", got)
	}
}

func TestSubmitAction_RateLimitRejectsSixthEmail(t *testing.T) {
	eng, s := newEngine(t)
	ctx := context.Background()

	// Free plan allows five emails per minute window.
	for n := range 5 {
		if _, err := eng.SubmitAction(ctx, freeTenant, job.KindSendEmail, emailPayload(t)); err != nil {
			t.Fatalf("email %d: %v", n, err)
		}
	}

	_, err := eng.SubmitAction(ctx, freeTenant, job.KindSendEmail, emailPayload(t))
	rej, ok := spool.IsRejected(err)
	if !ok {
		t.Fatalf("sixth email should be rejected, got %v", err)
	}
	if rej.Reason != spool.ReasonRateLimited {
		t.Errorf("Reason = %q, want %q", rej.Reason, spool.ReasonRateLimited)
	}
	if rej.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want > 0", rej.RetryAfter)
	}

	count, err := s.CountJobs(ctx, job.CountOpts{Queue: spool.QueueEmails})
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if count != 5 {
		t.Errorf("enqueued %d jobs, want 5 (rejection must not enqueue)", count)
	}

	// The rejected attempt must not consume monthly quota either.
	u, err := eng.Ledger().Usage(ctx, freeTenant.ID)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if got := u.Get(ledger.FieldEmailsSent); got != 5 {
		t.Errorf("emails_sent = %d, want 5", got)
	}
}

func TestSubmitAction_MonthlyQuotaExceeded(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	// Free plan caps at 300 emails per month.
	if _, err := eng.Ledger().Record(ctx, freeTenant.ID, ledger.FieldEmailsSent, 300); err != nil {
		t.Fatalf("Record: %v", err)
	}

	_, err := eng.SubmitAction(ctx, freeTenant, job.KindSendEmail, emailPayload(t))
	rej, ok := spool.IsRejected(err)
	if !ok {
		t.Fatalf("over-quota email should be rejected, got %v", err)
	}
	if rej.Reason != spool.ReasonQuotaExceeded {
		t.Errorf("Reason = %q, want %q", rej.Reason, spool.ReasonQuotaExceeded)
	}

	// The overshooting reserve is reversed; the counter settles at the cap.
	u, err := eng.Ledger().Usage(ctx, freeTenant.ID)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if got := u.Get(ledger.FieldEmailsSent); got != 300 {
		t.Errorf("emails_sent = %d, want 300", got)
	}
}

func TestSubmitChunk_CompletesOnceAndTracksStorage(t *testing.T) {
	eng, s := newEngine(t)
	ctx := context.Background()
	uploadID := id.NewUploadID()
	meta := upload.Meta{TargetName: "photo.jpg", MIMEType: "image/jpeg"}

	parts := [][]byte{[]byte("aa"), []byte("bb"), []byte("cc")}
	for n, data := range parts[:2] {
		st, err := eng.SubmitChunk(ctx, freeTenant, uploadID, n, 3, meta, data)
		if err != nil {
			t.Fatalf("chunk %d: %v", n, err)
		}
		if st.Completed {
			t.Fatalf("chunk %d should not complete", n)
		}
	}

	// Resubmitting a chunk overwrites the bytes without a second debit.
	if _, err := eng.SubmitChunk(ctx, freeTenant, uploadID, 1, 3, meta, parts[1]); err != nil {
		t.Fatalf("resubmit chunk 1: %v", err)
	}

	st, err := eng.SubmitChunk(ctx, freeTenant, uploadID, 2, 3, meta, parts[2])
	if err != nil {
		t.Fatalf("chunk 2: %v", err)
	}
	if !st.Completed {
		t.Fatal("final chunk should complete the session")
	}

	u, err := eng.Ledger().Usage(ctx, freeTenant.ID)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if got := u.Get(ledger.FieldStorageBytes); got != 6 {
		t.Errorf("storage_bytes = %d, want 6", got)
	}

	// Completion enqueued the reassembly job on the files queue.
	jobs, err := s.ListJobsByState(ctx, job.StatePending, job.ListOpts{Queue: spool.QueueFiles})
	if err != nil {
		t.Fatalf("ListJobsByState: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Name != job.KindReassembleUpload {
		t.Fatalf("pending files jobs = %+v, want one reassemble_upload", jobs)
	}
}

func TestSubmitChunk_StorageQuotaRejected(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	// Fill the free tier's 5 GiB allowance.
	if _, err := eng.Ledger().Record(ctx, freeTenant.ID, ledger.FieldStorageBytes, 5<<30); err != nil {
		t.Fatalf("Record: %v", err)
	}

	_, err := eng.SubmitChunk(ctx, freeTenant, id.NewUploadID(), 0, 1, upload.Meta{TargetName: "big.bin"}, []byte("xx"))
	rej, ok := spool.IsRejected(err)
	if !ok {
		t.Fatalf("over-quota chunk should be rejected, got %v", err)
	}
	if rej.Reason != spool.ReasonQuotaExceeded {
		t.Errorf("Reason = %q, want %q", rej.Reason, spool.ReasonQuotaExceeded)
	}
}

func TestSubmitChunk_ConcurrentResubmissionsDebitOnce(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()
	uploadID := id.NewUploadID()
	meta := upload.Meta{TargetName: "big.bin"}
	data := []byte("0123456789")

	// Race the same chunk number from many goroutines. Exactly one
	// submission records the chunk; every other reservation must be
	// reversed, whatever the interleaving.
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := eng.SubmitChunk(ctx, freeTenant, uploadID, 0, 2, meta, data); err != nil {
				t.Errorf("SubmitChunk: %v", err)
			}
		}()
	}
	wg.Wait()

	u, err := eng.Ledger().Usage(ctx, freeTenant.ID)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if got := u.Get(ledger.FieldStorageBytes); got != int64(len(data)) {
		t.Errorf("storage_bytes = %d after racing duplicates, want %d", got, len(data))
	}
}

func TestEnqueueRaw_UsesDefinitionDefaults(t *testing.T) {
	eng, s := newEngine(t)
	ctx := context.Background()

	def := job.NewDefinition("thumbnail",
		func(context.Context, struct{}) error { return nil },
		job.WithQueue(spool.QueueFiles),
		job.WithMaxAttempts(7),
	)
	engine.Register(eng, def)

	j, err := eng.EnqueueRaw(ctx, "thumbnail", []byte("{}"))
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Queue != spool.QueueFiles {
		t.Errorf("Queue = %q, want %q", got.Queue, spool.QueueFiles)
	}
	if got.MaxAttempts != 7 {
		t.Errorf("MaxAttempts = %d, want 7", got.MaxAttempts)
	}
}

func TestJobStatus(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	jobID, err := eng.SubmitAction(ctx, freeTenant, job.KindSendEmail, emailPayload(t))
	if err != nil {
		t.Fatalf("SubmitAction: %v", err)
	}

	state, err := eng.JobStatus(ctx, jobID)
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	if state != job.StatePending {
		t.Errorf("state = %q, want %q", state, job.StatePending)
	}

	if _, err := eng.JobStatus(ctx, id.NewJobID()); !errors.Is(err, spool.ErrJobNotFound) {
		t.Errorf("unknown job: err = %v, want ErrJobNotFound", err)
	}
}

func TestStart_RegistersMaintenanceSchedule(t *testing.T) {
	eng, s := newEngine(t)
	ctx := context.Background()

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(ctx) //nolint:errcheck

	entries, err := s.ListCrons(ctx)
	if err != nil {
		t.Fatalf("ListCrons: %v", err)
	}
	want := map[string]bool{
		"reset-monthly-usage":      false,
		"cleanup-expired-sessions": false,
		"cleanup-expired-tokens":   false,
		"cleanup-expired-shares":   false,
	}
	for _, e := range entries {
		if _, ok := want[e.Name]; ok {
			want[e.Name] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("maintenance cron %q not registered", name)
		}
	}
}

type countingMailer struct {
	sent atomic.Int64
}

func (m *countingMailer) Send(context.Context, *tasks.Email) error {
	m.sent.Add(1)
	return nil
}

type memEmailStatuses struct {
	mu       sync.Mutex
	statuses map[string]tasks.EmailStatus
}

func (f *memEmailStatuses) Status(_ context.Context, tenantID, messageID string) (tasks.EmailStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[tenantID+"/"+messageID], nil
}

func (f *memEmailStatuses) SetStatus(_ context.Context, tenantID, messageID string, status tasks.EmailStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statuses == nil {
		f.statuses = make(map[string]tasks.EmailStatus)
	}
	f.statuses[tenantID+"/"+messageID] = status
	return nil
}

func TestSubmitAction_EmailDeliveredEndToEnd(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	mailer := &countingMailer{}
	engine.Register(eng, tasks.SendEmail(mailer, &memEmailStatuses{}, eng.Ledger(), slog.Default()))

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(ctx) //nolint:errcheck

	jobID, err := eng.SubmitAction(ctx, freeTenant, job.KindSendEmail, emailPayload(t))
	if err != nil {
		t.Fatalf("SubmitAction: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for mailer.sent.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("email was not delivered within deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}

	waitForState(t, eng, jobID, job.StateCompleted)
}

func waitForState(t *testing.T, eng *engine.Engine, jobID id.JobID, want job.State) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		state, err := eng.JobStatus(context.Background(), jobID)
		if err == nil && state == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("job %s never reached %q (last state %q, err %v)", jobID, want, state, err)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
