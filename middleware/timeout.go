package middleware

import (
	"context"
	"log/slog"

	"github.com/oxlane/spool/job"
)

// Timeout returns middleware that enforces the soft per-job deadline.
// If the job has a non-zero Timeout, a context.WithTimeout wraps the handler
// call. The handler is expected to observe ctx at its checkpoints and return
// context.DeadlineExceeded, which the executor treats as transient so the
// job is redelivered. The hard limit (a handler that ignores its context)
// is covered by the pool's stale-job reaper.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Timeout > 0 {
			logger.Debug("job timeout set",
				slog.String("job_id", j.ID.String()),
				slog.Duration("timeout", j.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, j.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
