package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/oxlane/spool"
)

// fakeStore implements Store with the same atomic AddUsage contract as
// the real backends.
type fakeStore struct {
	mu   sync.Mutex
	rows map[string]*UsagePeriod // tenant@period
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]*UsagePeriod)}
}

func (s *fakeStore) AddUsage(_ context.Context, tenantID, period string, field Field, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := tenantID + "@" + period
	u := s.rows[k]
	if u == nil {
		u = &UsagePeriod{Entity: spool.NewEntity(), TenantID: tenantID, PeriodKey: period}
		s.rows[k] = u
	}
	var p *int64
	switch field {
	case FieldEmailsSent:
		p = &u.EmailsSent
	case FieldEmailsReceived:
		p = &u.EmailsReceived
	case FieldStorageBytes:
		p = &u.StorageBytes
	default:
		return 0, errors.New("unknown field")
	}
	*p += delta
	if *p < 0 {
		*p = 0
	}
	return *p, nil
}

func (s *fakeStore) GetUsage(_ context.Context, tenantID, period string) (*UsagePeriod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.rows[tenantID+"@"+period]
	if !ok {
		return nil, spool.ErrUsageNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *fakeStore) ResetPeriod(_ context.Context, period string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, u := range s.rows {
		if u.PeriodKey == period {
			u.EmailsSent, u.EmailsReceived, u.StorageBytes = 0, 0, 0
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) ListPeriods(_ context.Context, tenantID string) ([]*UsagePeriod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*UsagePeriod
	for _, u := range s.rows {
		if u.TenantID == tenantID {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func newTestService(store Store, at time.Time) *Service {
	svc := NewService(store, slog.Default())
	svc.now = func() time.Time { return at }
	return svc
}

var testNow = time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)

func TestPeriodKey(t *testing.T) {
	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "2026-01"},
		{time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC), "2026-12"},
		// Local time east of UTC on the month boundary still lands in
		// the UTC month.
		{time.Date(2026, 9, 1, 0, 30, 0, 0, time.FixedZone("east", 3600)), "2026-08"},
	}
	for _, tt := range tests {
		if got := PeriodKey(tt.at); got != tt.want {
			t.Errorf("PeriodKey(%v) = %q, want %q", tt.at, got, tt.want)
		}
	}
}

func TestReserve_UnderLimit(t *testing.T) {
	svc := newTestService(newFakeStore(), testNow)
	ctx := context.Background()

	total, err := svc.Reserve(ctx, "tenant-1", FieldEmailsSent, spool.Bounded(300), 1)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
}

func TestReserve_RejectsOverLimit(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, testNow)
	ctx := context.Background()

	for range 3 {
		if _, err := svc.Reserve(ctx, "t", FieldEmailsSent, spool.Bounded(3), 1); err != nil {
			t.Fatalf("Reserve: %v", err)
		}
	}

	_, err := svc.Reserve(ctx, "t", FieldEmailsSent, spool.Bounded(3), 1)
	rej, ok := spool.IsRejected(err)
	if !ok {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if rej.Reason != spool.ReasonQuotaExceeded {
		t.Errorf("Reason = %q, want %q", rej.Reason, spool.ReasonQuotaExceeded)
	}

	// The overshooting debit must have been reversed.
	u, err := store.GetUsage(ctx, "t", "2026-08")
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if u.EmailsSent != 3 {
		t.Errorf("EmailsSent = %d, want 3 after reversal", u.EmailsSent)
	}
}

func TestReserve_UnlimitedNeverRejects(t *testing.T) {
	svc := newTestService(newFakeStore(), testNow)
	ctx := context.Background()

	for i := range 1000 {
		if _, err := svc.Reserve(ctx, "t", FieldEmailsSent, spool.Unlimited(), 1); err != nil {
			t.Fatalf("Reserve %d: %v", i, err)
		}
	}
}

func TestReserve_ConcurrentDebitsSumExactly(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	var admitted sync.Map

	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			svc := newTestService(store, testNow)
			if _, err := svc.Reserve(ctx, "t", FieldEmailsSent, spool.Bounded(30), 1); err == nil {
				admitted.Store(i, true)
			}
		}(i)
	}
	wg.Wait()

	n := 0
	admitted.Range(func(_, _ any) bool { n++; return true })

	u, err := store.GetUsage(ctx, "t", "2026-08")
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	// Every admission debited exactly once; every rejection reversed.
	if u.EmailsSent != int64(n) {
		t.Fatalf("EmailsSent = %d, admitted = %d; counter must equal admissions", u.EmailsSent, n)
	}
	if n != 30 {
		t.Fatalf("admitted %d, want exactly 30", n)
	}
}

func TestRelease_ReversesDebit(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, testNow)
	ctx := context.Background()

	svc.Reserve(ctx, "t", FieldStorageBytes, spool.Bounded(1000), 400)
	if err := svc.Release(ctx, "t", FieldStorageBytes, 400); err != nil {
		t.Fatalf("Release: %v", err)
	}

	u, _ := store.GetUsage(ctx, "t", "2026-08")
	if u.StorageBytes != 0 {
		t.Errorf("StorageBytes = %d, want 0", u.StorageBytes)
	}
}

func TestRelease_ClampsAtZero(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, testNow)
	ctx := context.Background()

	svc.Reserve(ctx, "t", FieldEmailsSent, spool.Bounded(10), 1)
	// Double release must not go negative.
	svc.Release(ctx, "t", FieldEmailsSent, 1)
	svc.Release(ctx, "t", FieldEmailsSent, 1)

	u, _ := store.GetUsage(ctx, "t", "2026-08")
	if u.EmailsSent != 0 {
		t.Errorf("EmailsSent = %d, want 0 (clamped)", u.EmailsSent)
	}
}

func TestRecord_CountsWithoutGating(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, testNow)
	ctx := context.Background()

	for range 5 {
		if _, err := svc.Record(ctx, "t", FieldEmailsReceived, 1); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	u, _ := store.GetUsage(ctx, "t", "2026-08")
	if u.EmailsReceived != 5 {
		t.Errorf("EmailsReceived = %d, want 5", u.EmailsReceived)
	}
}

func TestPeek_DoesNotDebit(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, testNow)
	ctx := context.Background()

	ok, err := svc.Peek(ctx, "t", FieldEmailsSent, spool.Bounded(5), 1)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if !ok {
		t.Fatal("Peek should allow under limit")
	}
	if _, err := store.GetUsage(ctx, "t", "2026-08"); !errors.Is(err, spool.ErrUsageNotFound) {
		t.Error("Peek must not create or debit a row")
	}
}

func TestPeek_RefusesOverLimit(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, testNow)
	ctx := context.Background()

	svc.Reserve(ctx, "t", FieldStorageBytes, spool.Bounded(100), 90)
	ok, err := svc.Peek(ctx, "t", FieldStorageBytes, spool.Bounded(100), 20)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if ok {
		t.Fatal("Peek should refuse a delta that exceeds the limit")
	}
}

func TestResetPeriod_ZeroesButKeepsRows(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, testNow)
	ctx := context.Background()

	svc.Reserve(ctx, "t1", FieldEmailsSent, spool.Bounded(100), 7)
	svc.Reserve(ctx, "t2", FieldEmailsSent, spool.Bounded(100), 3)

	n, err := store.ResetPeriod(ctx, "2026-08")
	if err != nil {
		t.Fatalf("ResetPeriod: %v", err)
	}
	if n != 2 {
		t.Errorf("reset %d rows, want 2", n)
	}

	for _, tenant := range []string{"t1", "t2"} {
		u, err := store.GetUsage(ctx, tenant, "2026-08")
		if err != nil {
			t.Fatalf("row for %s should survive reset: %v", tenant, err)
		}
		if u.EmailsSent != 0 {
			t.Errorf("%s EmailsSent = %d, want 0", tenant, u.EmailsSent)
		}
	}
}

func TestResetPeriod_OtherPeriodsUntouched(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	july := newTestService(store, time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC))
	august := newTestService(store, testNow)

	july.Reserve(ctx, "t", FieldEmailsSent, spool.Bounded(100), 50)
	august.Reserve(ctx, "t", FieldEmailsSent, spool.Bounded(100), 5)

	if _, err := store.ResetPeriod(ctx, "2026-08"); err != nil {
		t.Fatalf("ResetPeriod: %v", err)
	}

	julyRow, _ := store.GetUsage(ctx, "t", "2026-07")
	if julyRow.EmailsSent != 50 {
		t.Errorf("july EmailsSent = %d, want 50 (untouched)", julyRow.EmailsSent)
	}
	augustRow, _ := store.GetUsage(ctx, "t", "2026-08")
	if augustRow.EmailsSent != 0 {
		t.Errorf("august EmailsSent = %d, want 0", augustRow.EmailsSent)
	}
}

func TestUsage_ZeroRowForIdleTenant(t *testing.T) {
	svc := newTestService(newFakeStore(), testNow)

	u, err := svc.Usage(context.Background(), "idle")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if u.TenantID != "idle" || u.PeriodKey != "2026-08" {
		t.Errorf("unexpected row: %+v", u)
	}
	if u.EmailsSent != 0 || u.StorageBytes != 0 {
		t.Error("idle tenant should report zero usage")
	}
}
