package job

import "time"

// Options configures per-job behavior such as attempts, queue, and priority.
type Options struct {
	// MaxAttempts is the total number of times a job may run before it is
	// marked terminally failed and moved to the DLQ.
	MaxAttempts int

	// Queue is the queue name this job should be enqueued to.
	Queue string

	// TenantID scopes the job to a tenant for quota accounting and
	// per-tenant dequeue throttling.
	TenantID string

	// Priority determines dequeue ordering. Higher values are processed first.
	Priority int

	// Timeout is the soft execution deadline. The handler's context is
	// cancelled when it elapses; the handler stops at its next checkpoint.
	Timeout time.Duration

	// RunAt schedules the job for future execution. Zero means immediate.
	RunAt time.Time
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		Queue:       "maintenance",
		Priority:    0,
		Timeout:     5 * time.Minute,
	}
}

// Option is a functional option for configuring a job definition.
type Option func(*Options)

// WithMaxAttempts sets the total attempt budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithQueue sets the queue name for the job.
func WithQueue(q string) Option {
	return func(o *Options) {
		o.Queue = q
	}
}

// WithTenant scopes the job to a tenant.
func WithTenant(tenantID string) Option {
	return func(o *Options) {
		o.TenantID = tenantID
	}
}

// WithPriority sets the job priority. Higher values are processed first.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithTimeout sets the soft execution deadline for the job.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithDelay schedules the job to run after d elapses.
func WithDelay(d time.Duration) Option {
	return func(o *Options) {
		o.RunAt = time.Now().UTC().Add(d)
	}
}

// WithRunAt schedules the job for execution at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) {
		o.RunAt = t
	}
}
