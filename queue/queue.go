package queue

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/oxlane/spool"
)

// Config defines dequeue pacing for one named queue.
type Config struct {
	// Name is the queue identifier (matches the job.Queue field).
	Name string

	// MaxConcurrency caps how many jobs from this queue may run at once
	// across the local worker pool. Zero means no queue-specific cap
	// (pool-wide concurrency still applies).
	MaxConcurrency int

	// JobsPerSecond is the sustained dequeue rate for this queue. Zero
	// disables rate pacing.
	JobsPerSecond float64

	// Burst is the token-bucket burst size. Defaults to 1 when
	// JobsPerSecond is set and Burst is zero.
	Burst int
}

// Defaults returns the drain configuration for the three built-in
// queues. Email drain is paced to protect the SMTP relay, file jobs are
// concurrency-bound because reassembly is disk-heavy, and maintenance
// sweeps run one at a time.
func Defaults() []Config {
	return []Config{
		{Name: spool.QueueEmails, JobsPerSecond: 25, Burst: 50},
		{Name: spool.QueueFiles, MaxConcurrency: 4},
		{Name: spool.QueueMaintenance, MaxConcurrency: 1},
	}
}

// bucket is the shared gate shape for a queue or a queue+tenant pair:
// an optional token-bucket pacer plus an active-count concurrency cap.
type bucket struct {
	pacer          *rate.Limiter
	maxConcurrency int
	active         int
}

func newBucket(jobsPerSecond float64, burst, maxConcurrency int) *bucket {
	b := &bucket{maxConcurrency: maxConcurrency}
	if jobsPerSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		b.pacer = rate.NewLimiter(rate.Limit(jobsPerSecond), burst)
	}
	return b
}

// admit consumes a pacer token and checks the concurrency cap, without
// incrementing active. Token consumption on a refused admit is
// deliberate: a hot queue should not bank tokens while it is saturated.
func (b *bucket) admit() bool {
	if b.pacer != nil && !b.pacer.Allow() {
		return false
	}
	return b.maxConcurrency <= 0 || b.active < b.maxConcurrency
}

// tenantKey identifies a tenant's slice of one queue.
type tenantKey struct {
	queue  string
	tenant string
}

// Manager paces dequeue per queue and per tenant within a queue. It is
// safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	queues  map[string]*bucket
	tenants map[tenantKey]*bucket
}

// NewManager creates a Manager with the given queue configurations.
// Queues not listed have no queue-level limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		queues:  make(map[string]*bucket, len(configs)),
		tenants: make(map[tenantKey]*bucket),
	}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newBucket(cfg.JobsPerSecond, cfg.Burst, cfg.MaxConcurrency)
	}
	return m
}

// Acquire checks pacing and concurrency for the queue and the tenant's
// slice of it. When the job may proceed it increments both active
// counters and returns true; the caller must Release when the job
// finishes.
func (m *Manager) Acquire(queue, tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qb := m.queues[queue]
	if qb != nil && !qb.admit() {
		return false
	}

	var tb *bucket
	if tenantID != "" {
		tb = m.tenants[tenantKey{queue, tenantID}]
		if tb != nil && !tb.admit() {
			return false
		}
	}

	if qb != nil {
		qb.active++
	}
	if tb != nil {
		tb.active++
	}
	return true
}

// Release returns the slots taken by Acquire.
func (m *Manager) Release(queue, tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qb := m.queues[queue]; qb != nil && qb.active > 0 {
		qb.active--
	}
	if tenantID != "" {
		if tb := m.tenants[tenantKey{queue, tenantID}]; tb != nil && tb.active > 0 {
			tb.active--
		}
	}
}

// SetQueueConfig updates (or creates) a queue's drain configuration.
// The active count carries over so in-flight jobs stay accounted.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := newBucket(cfg.JobsPerSecond, cfg.Burst, cfg.MaxConcurrency)
	if existing := m.queues[cfg.Name]; existing != nil {
		b.active = existing.active
	}
	m.queues[cfg.Name] = b
}

// ActiveCount returns the number of in-flight jobs for a queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qb := m.queues[queue]; qb != nil {
		return qb.active
	}
	return 0
}
