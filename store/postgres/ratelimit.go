package postgres

import (
	"context"
	"fmt"
	"time"
)

// HitWindow increments the counter for key at the given window start iff
// the current count is below limit. The upsert only applies when the
// limit allows it, so rejected hits never inflate the count; a CTE
// purges expired windows on the way through.
func (s *Store) HitWindow(ctx context.Context, key string, windowStart time.Time, limit int64, ttl time.Duration) (int64, bool, error) {
	expiresAt := windowStart.Add(ttl)

	var count int64
	err := s.pool.QueryRow(ctx, `
		WITH purged AS (
			DELETE FROM spool_rate_windows WHERE expires_at < NOW()
		)
		INSERT INTO spool_rate_windows (window_key, window_start, count, expires_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (window_key, window_start) DO UPDATE SET
			count = spool_rate_windows.count + 1
		WHERE spool_rate_windows.count < $4
		RETURNING count`,
		key, windowStart.UTC(), expiresAt.UTC(), limit,
	).Scan(&count)
	if err == nil {
		return count, true, nil
	}
	if !isNoRows(err) {
		return 0, false, fmt.Errorf("spool/postgres: hit window: %w", err)
	}

	// The conditional update did not apply: the window is full. Read the
	// current count for the caller's rejection report.
	err = s.pool.QueryRow(ctx,
		`SELECT count FROM spool_rate_windows WHERE window_key = $1 AND window_start = $2`,
		key, windowStart.UTC(),
	).Scan(&count)
	if err != nil {
		if isNoRows(err) {
			// Window row vanished between statements; treat as full.
			return limit, false, nil
		}
		return 0, false, fmt.Errorf("spool/postgres: hit window count: %w", err)
	}
	return count, false, nil
}
