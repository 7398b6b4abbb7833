package queue

import (
	"github.com/oxlane/spool/plan"
)

// TenantLimits defines how fast one tenant's jobs may drain from a
// queue. This bounds noisy neighbours at execution time; admission
// control already bounded what they could submit.
type TenantLimits struct {
	// JobsPerSecond is the tenant's sustained drain rate on the queue.
	// Zero disables rate pacing for the tenant.
	JobsPerSecond float64

	// Burst is the token-bucket burst size.
	Burst int

	// MaxConcurrency caps the tenant's simultaneous jobs on the queue.
	// Zero means no tenant-specific cap.
	MaxConcurrency int
}

// ForPlan derives drain limits from a subscription plan. The rate
// mirrors the plan's per-minute email admission ceiling, so a tenant's
// backlog drains no faster than it could have been submitted; the
// concurrency cap scales with tier.
func ForPlan(name plan.Name) TenantLimits {
	limits := plan.For(name)

	concurrency := 2
	switch name {
	case plan.Pro:
		concurrency = 8
	case plan.Enterprise:
		concurrency = 32
	}

	return TenantLimits{
		JobsPerSecond:  float64(limits.EmailsPerMinute) / 60,
		Burst:          limits.EmailsPerMinute,
		MaxConcurrency: concurrency,
	}
}

// SetTenantLimits configures drain limits for one tenant on one queue,
// replacing any previous configuration for the pair. The active count
// carries over so in-flight jobs stay accounted.
func (m *Manager) SetTenantLimits(queue, tenantID string, l TenantLimits) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tenantKey{queue, tenantID}
	b := newBucket(l.JobsPerSecond, l.Burst, l.MaxConcurrency)
	if existing := m.tenants[key]; existing != nil {
		b.active = existing.active
	}
	m.tenants[key] = b
}

// SetTenantPlan applies plan-derived drain limits for a tenant on a
// queue; see ForPlan.
func (m *Manager) SetTenantPlan(queue, tenantID string, name plan.Name) {
	m.SetTenantLimits(queue, tenantID, ForPlan(name))
}

// TenantActiveCount returns the tenant's in-flight jobs on a queue.
func (m *Manager) TenantActiveCount(queue, tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tb := m.tenants[tenantKey{queue, tenantID}]; tb != nil {
		return tb.active
	}
	return 0
}
