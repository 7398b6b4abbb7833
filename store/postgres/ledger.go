package postgres

import (
	"context"
	"fmt"

	"github.com/oxlane/spool"
	"github.com/oxlane/spool/ledger"
)

// usageColumn maps a ledger field to its column name. Field names are
// interpolated into SQL, so anything unknown must be rejected here.
func usageColumn(f ledger.Field) (string, error) {
	switch f {
	case ledger.FieldEmailsSent, ledger.FieldEmailsReceived, ledger.FieldStorageBytes:
		return string(f), nil
	}
	return "", fmt.Errorf("spool/postgres: unknown usage field %q", f)
}

// AddUsage atomically adds delta to the given field via a single upsert.
// GREATEST keeps the counter from going below zero.
func (s *Store) AddUsage(ctx context.Context, tenantID, period string, field ledger.Field, delta int64) (int64, error) {
	col, err := usageColumn(field)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`
		INSERT INTO spool_usage_periods (tenant_id, period_key, %s)
		VALUES ($1, $2, GREATEST(0, $3::bigint))
		ON CONFLICT (tenant_id, period_key) DO UPDATE SET
			%s = GREATEST(0, spool_usage_periods.%s + $3),
			updated_at = NOW()
		RETURNING %s`, col, col, col, col)

	var total int64
	if err := s.pool.QueryRow(ctx, query, tenantID, period, delta).Scan(&total); err != nil {
		return 0, fmt.Errorf("spool/postgres: add usage: %w", err)
	}
	return total, nil
}

// GetUsage returns the usage row for (tenant, period).
func (s *Store) GetUsage(ctx context.Context, tenantID, period string) (*ledger.UsagePeriod, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			tenant_id, period_key, emails_sent, emails_received,
			storage_bytes, created_at, updated_at
		FROM spool_usage_periods
		WHERE tenant_id = $1 AND period_key = $2`,
		tenantID, period,
	)

	var u ledger.UsagePeriod
	err := row.Scan(
		&u.TenantID, &u.PeriodKey, &u.EmailsSent, &u.EmailsReceived,
		&u.StorageBytes, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, spool.ErrUsageNotFound
		}
		return nil, fmt.Errorf("spool/postgres: get usage: %w", err)
	}
	return &u, nil
}

// ResetPeriod zeroes every counter for all rows in the given period.
func (s *Store) ResetPeriod(ctx context.Context, period string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE spool_usage_periods
		SET emails_sent = 0, emails_received = 0, storage_bytes = 0,
			updated_at = NOW()
		WHERE period_key = $1`,
		period,
	)
	if err != nil {
		return 0, fmt.Errorf("spool/postgres: reset period: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListPeriods returns all usage rows for a tenant, newest period first.
func (s *Store) ListPeriods(ctx context.Context, tenantID string) ([]*ledger.UsagePeriod, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			tenant_id, period_key, emails_sent, emails_received,
			storage_bytes, created_at, updated_at
		FROM spool_usage_periods
		WHERE tenant_id = $1
		ORDER BY period_key DESC`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("spool/postgres: list periods: %w", err)
	}
	defer rows.Close()

	var periods []*ledger.UsagePeriod
	for rows.Next() {
		var u ledger.UsagePeriod
		scanErr := rows.Scan(
			&u.TenantID, &u.PeriodKey, &u.EmailsSent, &u.EmailsReceived,
			&u.StorageBytes, &u.CreatedAt, &u.UpdatedAt,
		)
		if scanErr != nil {
			return nil, fmt.Errorf("spool/postgres: scan usage row: %w", scanErr)
		}
		periods = append(periods, &u)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("spool/postgres: iterate usage rows: %w", err)
	}
	return periods, nil
}
