package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeStore is an in-memory HitWindow implementation with the same
// compare-and-increment contract as the real backends.
type fakeStore struct {
	mu      sync.Mutex
	windows map[string]int64 // key+windowStart → count
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{windows: make(map[string]int64)}
}

func (s *fakeStore) HitWindow(_ context.Context, key string, windowStart time.Time, limit int64, _ time.Duration) (int64, bool, error) {
	if s.err != nil {
		return 0, false, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key + "@" + windowStart.Format(time.RFC3339)
	count := s.windows[k]
	if count >= limit {
		return count, false, nil
	}
	count++
	s.windows[k] = count
	return count, true, nil
}

func newTestLimiter(s Store, at time.Time) *Limiter {
	l := NewLimiter(s)
	l.now = func() time.Time { return at }
	return l
}

func TestAdmit_UnderLimit(t *testing.T) {
	s := newFakeStore()
	l := newTestLimiter(s, time.Date(2026, 1, 15, 12, 30, 10, 0, time.UTC))
	ctx := context.Background()

	for i := range 5 {
		d, err := l.Admit(ctx, "tenant-1", "send_email", 5, time.Minute)
		if err != nil {
			t.Fatalf("Admit %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("Admit %d should be allowed", i)
		}
		if want := int64(5 - i - 1); d.Remaining != want {
			t.Errorf("Admit %d: Remaining = %d, want %d", i, d.Remaining, want)
		}
	}
}

func TestAdmit_RejectsAtLimit(t *testing.T) {
	s := newFakeStore()
	l := newTestLimiter(s, time.Date(2026, 1, 15, 12, 30, 10, 0, time.UTC))
	ctx := context.Background()

	for range 5 {
		if _, err := l.Admit(ctx, "tenant-1", "send_email", 5, time.Minute); err != nil {
			t.Fatal(err)
		}
	}

	d, err := l.Admit(ctx, "tenant-1", "send_email", 5, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("6th admit in window should be rejected")
	}
	if d.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", d.Remaining)
	}
	// Window is 12:30:00–12:31:00; at 12:30:10 the retry hint is 50s.
	if d.RetryAfter != 50*time.Second {
		t.Errorf("RetryAfter = %v, want 50s", d.RetryAfter)
	}
}

func TestAdmit_RejectionDoesNotConsume(t *testing.T) {
	s := newFakeStore()
	l := newTestLimiter(s, time.Date(2026, 1, 15, 12, 30, 0, 0, time.UTC))
	ctx := context.Background()

	for range 3 {
		l.Admit(ctx, "t", "a", 3, time.Minute)
	}
	// Hammer rejections; the count must stay at the limit, not climb.
	for range 10 {
		d, _ := l.Admit(ctx, "t", "a", 3, time.Minute)
		if d.Allowed {
			t.Fatal("admit past limit")
		}
	}

	k := "t:a@" + time.Date(2026, 1, 15, 12, 30, 0, 0, time.UTC).Format(time.RFC3339)
	s.mu.Lock()
	count := s.windows[k]
	s.mu.Unlock()
	if count != 3 {
		t.Fatalf("window count = %d, want 3 (rejections must not increment)", count)
	}
}

func TestAdmit_NewWindowResetsCount(t *testing.T) {
	s := newFakeStore()
	ctx := context.Background()

	t0 := time.Date(2026, 1, 15, 12, 30, 55, 0, time.UTC)
	l := newTestLimiter(s, t0)
	for range 5 {
		l.Admit(ctx, "t", "a", 5, time.Minute)
	}
	if d, _ := l.Admit(ctx, "t", "a", 5, time.Minute); d.Allowed {
		t.Fatal("should be exhausted in first window")
	}

	// Cross the boundary: fresh window, fresh budget.
	l.now = func() time.Time { return time.Date(2026, 1, 15, 12, 31, 1, 0, time.UTC) }
	d, err := l.Admit(ctx, "t", "a", 5, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Fatal("new window should admit")
	}
	if d.Remaining != 4 {
		t.Errorf("Remaining = %d, want 4", d.Remaining)
	}
}

func TestAdmit_TenantsAndActionsIsolated(t *testing.T) {
	s := newFakeStore()
	l := newTestLimiter(s, time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for range 2 {
		l.Admit(ctx, "tenant-1", "send_email", 2, time.Minute)
	}
	if d, _ := l.Admit(ctx, "tenant-1", "send_email", 2, time.Minute); d.Allowed {
		t.Fatal("tenant-1 send_email should be exhausted")
	}
	if d, _ := l.Admit(ctx, "tenant-2", "send_email", 2, time.Minute); !d.Allowed {
		t.Fatal("tenant-2 must not be affected by tenant-1's window")
	}
	if d, _ := l.Admit(ctx, "tenant-1", "upload_file", 2, time.Minute); !d.Allowed {
		t.Fatal("a different action has its own window")
	}
}

func TestAdmit_ZeroLimitAdmitsNothing(t *testing.T) {
	s := newFakeStore()
	l := newTestLimiter(s, time.Date(2026, 1, 15, 12, 0, 30, 0, time.UTC))

	d, err := l.Admit(context.Background(), "t", "a", 0, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("zero limit should admit nothing")
	}
	if d.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", d.RetryAfter)
	}
}

func TestAdmit_StoreErrorPropagates(t *testing.T) {
	s := newFakeStore()
	s.err = errors.New("backend down")
	l := newTestLimiter(s, time.Now())

	_, err := l.Admit(context.Background(), "t", "a", 5, time.Minute)
	if err == nil {
		t.Fatal("expected store error to propagate")
	}
}

func TestAdmit_ConcurrentNeverExceedsLimit(t *testing.T) {
	s := newFakeStore()
	at := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	const limit = 20
	var wg sync.WaitGroup
	allowed := make(chan struct{}, 100)

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := newTestLimiter(s, at)
			d, err := l.Admit(ctx, "t", "a", limit, time.Minute)
			if err == nil && d.Allowed {
				allowed <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(allowed)

	n := 0
	for range allowed {
		n++
	}
	if n != limit {
		t.Fatalf("admitted %d, want exactly %d", n, limit)
	}
}
