package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oxlane/spool/id"
	"github.com/oxlane/spool/job"
	"github.com/oxlane/spool/ledger"
	"github.com/oxlane/spool/upload"
)

// TokenStore deletes expired auth/download tokens. Owned by the API
// layer; injected here so the daily cleanup can drive it.
type TokenStore interface {
	DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error)
}

// ShareStore deletes expired share links.
type ShareStore interface {
	DeleteExpiredShares(ctx context.Context, before time.Time) (int64, error)
}

// ChunkSizer reports the bytes a session holds in chunk storage.
// DiskChunkStore implements it; the session cleanup uses it to reverse
// the storage debit of abandoned uploads.
type ChunkSizer interface {
	ChunkBytes(ctx context.Context, uploadID id.UploadID) (int64, error)
}

// ResetUsage builds the reset_monthly_usage handler, fired at the top
// of each month. Usage rows are keyed by period, so a new month starts
// at zero on its own; the reset zeroes rows already written into the
// new period (clock-skewed writers, manual adjustments) and keeps the
// closed months intact for billing.
func ResetUsage(store ledger.Store, logger *slog.Logger) *job.Definition[struct{}] {
	return job.NewDefinition(job.KindResetUsage,
		func(ctx context.Context, _ struct{}) error {
			period := ledger.PeriodKey(time.Now().UTC())
			n, err := store.ResetPeriod(ctx, period)
			if err != nil {
				return fmt.Errorf("spool/tasks: reset period %s: %w", period, err)
			}
			logger.Info("monthly usage reset", "period", period, "rows", n)
			return nil
		},
	)
}

// CleanupSessions builds the cleanup_expired_sessions handler. Sessions
// still collecting after ttl were abandoned mid-upload, so their chunks
// are dropped and the storage bytes reserved for them are released.
// Complete sessions are skipped regardless of age: the reassembly job
// owns their teardown. One broken session does not stop the sweep; the
// first error is reported after the rest are processed so the job
// retries.
func CleanupSessions(sessions upload.SessionStore, chunks upload.ChunkStore, led *ledger.Service, ttl time.Duration, logger *slog.Logger) *job.Definition[struct{}] {
	return job.NewDefinition(job.KindCleanupSessions,
		func(ctx context.Context, _ struct{}) error {
			cutoff := time.Now().UTC().Add(-ttl)
			expired, err := sessions.ListExpiredSessions(ctx, cutoff)
			if err != nil {
				return fmt.Errorf("spool/tasks: list expired sessions: %w", err)
			}

			var firstErr error
			reclaimed := 0
			for _, sess := range expired {
				// A complete session belongs to its reassembly job,
				// which deletes it when it finishes; reclaiming it here
				// would destroy a finished upload whose job is still
				// queued or retrying.
				if sess.State != upload.StateCollecting {
					continue
				}
				var freed int64
				if sizer, ok := chunks.(ChunkSizer); ok {
					freed, err = sizer.ChunkBytes(ctx, sess.ID)
					if err != nil {
						logger.Error("size chunks for expired session",
							"upload_id", sess.ID.String(),
							"reconciliation_required", true,
							"error", err.Error(),
						)
						freed = 0
					}
				}
				if err := chunks.DeleteChunks(ctx, sess.ID); err != nil {
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				if err := sessions.DeleteSession(ctx, sess.ID); err != nil {
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				if freed > 0 {
					if err := led.Release(ctx, sess.TenantID, ledger.FieldStorageBytes, freed); err != nil {
						logger.Error("release storage for expired session",
							"tenant_id", sess.TenantID,
							"upload_id", sess.ID.String(),
							"bytes", freed,
							"reconciliation_required", true,
							"error", err.Error(),
						)
					}
				}
				reclaimed++
			}

			if reclaimed > 0 || firstErr != nil {
				logger.Info("expired upload sessions reclaimed",
					"reclaimed", reclaimed,
					"expired", len(expired),
				)
			}
			if firstErr != nil {
				return fmt.Errorf("spool/tasks: cleanup sessions: %w", firstErr)
			}
			return nil
		},
	)
}

// CleanupTokens builds the daily cleanup_expired_tokens handler.
func CleanupTokens(tokens TokenStore, logger *slog.Logger) *job.Definition[struct{}] {
	return job.NewDefinition(job.KindCleanupTokens,
		func(ctx context.Context, _ struct{}) error {
			n, err := tokens.DeleteExpiredTokens(ctx, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("spool/tasks: cleanup tokens: %w", err)
			}
			if n > 0 {
				logger.Info("expired tokens deleted", "count", n)
			}
			return nil
		},
	)
}

// CleanupShares builds the daily cleanup_expired_shares handler.
func CleanupShares(shares ShareStore, logger *slog.Logger) *job.Definition[struct{}] {
	return job.NewDefinition(job.KindCleanupShares,
		func(ctx context.Context, _ struct{}) error {
			n, err := shares.DeleteExpiredShares(ctx, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("spool/tasks: cleanup shares: %w", err)
			}
			if n > 0 {
				logger.Info("expired shares deleted", "count", n)
			}
			return nil
		},
	)
}
