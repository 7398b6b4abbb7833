// Package job defines the job entity, state machine, typed definitions,
// outcome classification, and store interface.
//
// # Job Entity
//
// A [Job] represents a retryable unit of deferred work. It embeds
// [spool.Entity] for timestamps, carries a typed payload (JSON), is scoped
// to a tenant, and progresses through a state machine:
//
//	pending → running → completed
//	pending → running → retrying → running → ...
//	pending → running → failed
//
// Terminal states (completed, failed) are immutable. Fields of note:
//   - Queue: which queue the job belongs to (emails, files, maintenance)
//   - TenantID: the account whose quotas and limits the job counts against
//   - MaxAttempts / Attempts: the retry budget (attempts are total runs)
//   - RunAt: earliest time the job may be dequeued (delayed jobs)
//   - Timeout: soft per-job execution deadline (zero = unlimited)
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload is JSON-serialized
// at enqueue time and deserialized before the handler runs:
//
//	var SendEmail = job.NewDefinition(job.KindSendEmail,
//	    func(ctx context.Context, input EmailInput) error {
//	        if err := mailer.Send(ctx, input); err != nil {
//	            return job.Transient(err)
//	        }
//	        return nil
//	    },
//	)
//
// # Outcomes
//
// Handlers classify failures instead of letting the worker inspect error
// text: wrap with [Transient] (retried with backoff) or [Permanent]
// (terminal, no retry). A bare error is treated as transient. Delivery is
// at-least-once, so handlers must be idempotent — check the persisted
// entity's state before re-applying a side effect.
package job
