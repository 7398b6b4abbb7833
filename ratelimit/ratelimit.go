// Package ratelimit provides fixed-window admission limiting for tenant
// actions. The window is derived from wall-clock time (floor(now/window)),
// so each (tenant, action) pair has exactly one live counter at a time.
//
// The store operation is a single atomic compare-and-increment: a rejected
// admit never bumps the counter, so there is no read-then-write race
// between concurrent submitters. Two bursts straddling a window boundary
// can pass up to 2× the limit through; that is inherent to fixed windows
// and accepted here in exchange for the O(1) counter.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Decision is the outcome of an admission check.
type Decision struct {
	// Allowed reports whether the action was admitted.
	Allowed bool

	// Remaining is the number of admissions left in the current window
	// after this decision.
	Remaining int64

	// RetryAfter is how long until the current window ends. Only
	// meaningful when Allowed is false.
	RetryAfter time.Duration
}

// Store is the persistence contract for rate-limit windows.
// Implementations must make HitWindow a single atomic operation.
type Store interface {
	// HitWindow increments the counter for key at the given window start
	// iff the current count is below limit. It returns the count after
	// the call and whether the increment was applied. The counter must
	// expire no earlier than ttl after the window starts.
	HitWindow(ctx context.Context, key string, windowStart time.Time, limit int64, ttl time.Duration) (count int64, allowed bool, err error)
}

// Limiter answers whether a tenant action may proceed right now.
type Limiter struct {
	store Store
	// now is swappable for tests.
	now func() time.Time
}

// NewLimiter creates a Limiter over the given store.
func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// Admit checks whether tenant may perform action under the given
// per-window limit. A limit of zero or less admits nothing.
func (l *Limiter) Admit(ctx context.Context, tenant, action string, limit int64, window time.Duration) (Decision, error) {
	now := l.now().UTC()
	windowStart := now.Truncate(window)
	windowEnd := windowStart.Add(window)

	if limit <= 0 {
		return Decision{Allowed: false, RetryAfter: windowEnd.Sub(now)}, nil
	}

	key := windowKey(tenant, action)
	// TTL runs a full extra window past expiry so slow clocks on the
	// backend never drop a live counter.
	count, allowed, err := l.store.HitWindow(ctx, key, windowStart, limit, 2*window)
	if err != nil {
		return Decision{}, fmt.Errorf("spool/ratelimit: hit window: %w", err)
	}

	d := Decision{Allowed: allowed, Remaining: max(limit-count, 0)}
	if !allowed {
		d.RetryAfter = windowEnd.Sub(now)
	}
	return d, nil
}

// windowKey builds the counter key for a tenant+action pair. The window
// start is keyed separately by the store so an expired window is
// superseded rather than mutated.
func windowKey(tenant, action string) string {
	return tenant + ":" + action
}
