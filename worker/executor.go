// Package worker provides the job execution engine — an Executor that
// invokes registered handlers through middleware, and a Pool that
// manages concurrent worker goroutines polling for jobs.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oxlane/spool/backoff"
	"github.com/oxlane/spool/dlq"
	"github.com/oxlane/spool/ext"
	"github.com/oxlane/spool/job"
	"github.com/oxlane/spool/middleware"
	"github.com/oxlane/spool/scope"
)

// Executor runs a single job through middleware and the registered handler,
// then applies the outcome: completion, retry with backoff, or terminal
// failure with a DLQ push.
//
// Retry policy lives here, not in handlers. Handlers classify their errors
// with job.Transient / job.Permanent; the executor decides what happens.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	dlqService *dlq.Service
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	dlqService *dlq.Service,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		dlqService: dlqService,
		backoff:    bo,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs a job through the middleware chain and handler.
// On success: marks completed, emits JobCompleted.
// On a transient failure with attempts remaining: marks retrying with
// backoff, emits JobRetrying.
// On a permanent failure, or when the attempt budget is spent: marks
// failed, pushes to DLQ, emits JobFailed + JobDLQ. The terminal
// transition happens exactly once; retried deliveries of an already
// terminal job are rejected by the store.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Name)
	if !ok {
		// Left running, the reaper would requeue this job forever. It
		// burns attempts like any other failure: a deployment that
		// registers the handler later picks it up on retry, one that
		// never does sees it land in the DLQ.
		j.Attempts++
		now := time.Now().UTC()
		j.UpdatedAt = now
		return e.handleFailure(ctx, j, fmt.Errorf("no handler registered for job %q", j.Name), now)
	}

	// This delivery consumes one attempt, whatever the outcome.
	j.Attempts++

	// Handlers see the tenant the job was enqueued under.
	ctx = scope.Restore(ctx, j.TenantID)

	start := time.Now()

	// The terminal handler that calls the registered job handler.
	terminal := func(ctx context.Context) error {
		return handler(ctx, j.Payload)
	}

	// Run through middleware chain.
	err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	now := time.Now().UTC()
	j.UpdatedAt = now

	if err != nil {
		return e.handleFailure(ctx, j, err, now)
	}

	return e.handleSuccess(ctx, j, now, elapsed)
}

// handleSuccess marks the job as completed and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, now time.Time, elapsed time.Duration) error {
	j.State = job.StateCompleted
	j.CompletedAt = &now
	j.LastError = ""

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// handleFailure classifies the error and either schedules a retry or
// fails the job terminally.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	j.LastError = handlerErr.Error()

	// Permanent errors never retry: malformed payloads, missing
	// sessions, anything a second delivery cannot fix.
	if job.IsPermanent(handlerErr) {
		return e.failTerminally(ctx, j, handlerErr)
	}

	if j.Attempts < j.MaxAttempts {
		return e.scheduleRetry(ctx, j, now, handlerErr)
	}

	return e.failTerminally(ctx, j, handlerErr)
}

// scheduleRetry sets the job to StateRetrying with a backoff delay.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, now time.Time, handlerErr error) error {
	delay := e.backoff.Delay(j.Attempts)
	nextRunAt := now.Add(delay)
	j.RunAt = nextRunAt
	j.State = job.StateRetrying

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobRetrying(ctx, j, j.Attempts, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempt", j.Attempts),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s attempt %d/%d: %w", j.Name, j.Attempts, j.MaxAttempts, handlerErr)
}

// failTerminally marks the job as failed, pushes it to the DLQ, and
// emits the failure events.
func (e *Executor) failTerminally(ctx context.Context, j *job.Job, handlerErr error) error {
	j.State = job.StateFailed

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job as failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	if e.dlqService != nil {
		if dlqErr := e.dlqService.Push(ctx, j, handlerErr); dlqErr != nil {
			e.logger.Error("failed to push job to DLQ",
				slog.String("job_id", j.ID.String()),
				slog.String("error", dlqErr.Error()),
			)
		}
	}

	e.extensions.EmitJobFailed(ctx, j, handlerErr)
	e.extensions.EmitJobDLQ(ctx, j, handlerErr)

	e.logger.Warn("job failed terminally",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempts", j.Attempts),
		slog.Bool("permanent", job.IsPermanent(handlerErr)),
		slog.String("error", handlerErr.Error()),
	)

	return handlerErr
}
