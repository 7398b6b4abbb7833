package ledger

import "context"

// Store defines the persistence contract for usage periods.
//
// AddUsage is the only mutation primitive and must be atomic: concurrent
// callers adding deltas to the same (tenant, period, field) must all be
// reflected in the final total with no lost updates. Implementations
// upsert the row on first touch and clamp the result at zero.
type Store interface {
	// AddUsage atomically adds delta (which may be negative) to the given
	// field and returns the new total. The row is created if absent; the
	// result never goes below zero.
	AddUsage(ctx context.Context, tenantID, period string, field Field, delta int64) (int64, error)

	// GetUsage returns the usage row for (tenant, period), or
	// spool.ErrUsageNotFound if the tenant has no usage that month.
	GetUsage(ctx context.Context, tenantID, period string) (*UsagePeriod, error)

	// ResetPeriod zeroes every counter for all rows in the given period
	// and returns the number of rows touched. Rows are kept, not deleted.
	ResetPeriod(ctx context.Context, period string) (int64, error)

	// ListPeriods returns all usage rows for a tenant, newest period first.
	ListPeriods(ctx context.Context, tenantID string) ([]*UsagePeriod, error)
}
