package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oxlane/spool"
)

// Service provides quota accounting over a Store for the current period.
//
// The debit model is reserve-at-submit: Reserve debits the counter when
// the action is admitted, Commit is a marker after the side effect lands,
// and Release is the compensating reverse-debit when the action fails
// terminally. An overshooting Reserve is reversed immediately, so the
// counter can transiently exceed the limit under contention but never
// admits more work than the limit allows.
type Service struct {
	store  Store
	logger *slog.Logger
	// now is swappable for tests.
	now func() time.Time
}

// NewService creates a ledger service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// Period returns the current ledger period key.
func (s *Service) Period() string {
	return PeriodKey(s.now())
}

// Peek reports whether a delta of the given size would fit under limit,
// without debiting anything. It is advisory: the authoritative check is
// the atomic one inside Reserve.
func (s *Service) Peek(ctx context.Context, tenantID string, field Field, limit spool.Limit, delta int64) (bool, error) {
	if limit.IsUnlimited() {
		return true, nil
	}
	u, err := s.store.GetUsage(ctx, tenantID, s.Period())
	if errors.Is(err, spool.ErrUsageNotFound) {
		return limit.AllowsDelta(0, delta), nil
	}
	if err != nil {
		return false, fmt.Errorf("spool/ledger: peek: %w", err)
	}
	return limit.AllowsDelta(u.Get(field), delta), nil
}

// Reserve atomically debits delta against the tenant's current period.
// If the new total would exceed limit, the debit is reversed and a
// *spool.RejectedError with ReasonQuotaExceeded is returned.
func (s *Service) Reserve(ctx context.Context, tenantID string, field Field, limit spool.Limit, delta int64) (int64, error) {
	total, err := s.store.AddUsage(ctx, tenantID, s.Period(), field, delta)
	if err != nil {
		return 0, fmt.Errorf("spool/ledger: reserve: %w", err)
	}
	if limit.IsUnlimited() || total <= limit.Value() {
		return total, nil
	}

	// Over the limit: reverse the debit before rejecting.
	if _, rerr := s.store.AddUsage(ctx, tenantID, s.Period(), field, -delta); rerr != nil {
		s.logger.Error("ledger reserve reversal failed",
			slog.String("tenant_id", tenantID),
			slog.String("field", string(field)),
			slog.Int64("delta", delta),
			slog.Bool("reconciliation_required", true),
			slog.String("error", rerr.Error()),
		)
	}
	return total - delta, &spool.RejectedError{
		Reason:   spool.ReasonQuotaExceeded,
		TenantID: tenantID,
	}
}

// Commit marks a reserved debit as settled. The counter was already
// debited by Reserve, so this only records the settlement for operators.
func (s *Service) Commit(ctx context.Context, tenantID string, field Field, delta int64) {
	s.logger.Debug("ledger commit",
		slog.String("tenant_id", tenantID),
		slog.String("field", string(field)),
		slog.Int64("delta", delta),
	)
}

// Release reverses a debit from Reserve after a terminal failure, or
// credits back freed resources (a deleted file, for example). The store
// clamps at zero so a double release cannot drive the counter negative.
func (s *Service) Release(ctx context.Context, tenantID string, field Field, delta int64) error {
	if _, err := s.store.AddUsage(ctx, tenantID, s.Period(), field, -delta); err != nil {
		return fmt.Errorf("spool/ledger: release: %w", err)
	}
	return nil
}

// Record adds usage that is counted but never gated, such as received
// emails. It debits unconditionally with no limit check.
func (s *Service) Record(ctx context.Context, tenantID string, field Field, delta int64) (int64, error) {
	total, err := s.store.AddUsage(ctx, tenantID, s.Period(), field, delta)
	if err != nil {
		return 0, fmt.Errorf("spool/ledger: record: %w", err)
	}
	return total, nil
}

// Usage returns the tenant's usage row for the current period. A tenant
// with no activity this month gets a zero-valued row.
func (s *Service) Usage(ctx context.Context, tenantID string) (*UsagePeriod, error) {
	u, err := s.store.GetUsage(ctx, tenantID, s.Period())
	if errors.Is(err, spool.ErrUsageNotFound) {
		return &UsagePeriod{TenantID: tenantID, PeriodKey: s.Period()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("spool/ledger: usage: %w", err)
	}
	return u, nil
}
