package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/oxlane/spool"
	"github.com/oxlane/spool/id"
	"github.com/oxlane/spool/job"
	"github.com/oxlane/spool/ledger"
	"github.com/oxlane/spool/plan"
	"github.com/oxlane/spool/scope"
	"github.com/oxlane/spool/upload"
)

// Tenant identifies the account submitting work and the plan that
// bounds it. Billing owns the tenant-to-plan mapping; callers resolve
// it before submitting.
type Tenant struct {
	ID   string
	Plan plan.Name
}

// kindQueue routes a job kind to its queue.
func kindQueue(kind string) string {
	switch kind {
	case job.KindSendEmail:
		return spool.QueueEmails
	case job.KindScanFile, job.KindReassembleUpload:
		return spool.QueueFiles
	default:
		return spool.QueueMaintenance
	}
}

// SubmitAction accepts a tenant-triggered action, runs it through the
// admission gates, and enqueues the job. The gates run in order: plan
// lookup, fixed-window rate limit, monthly quota reserve. A rejection
// at any gate returns *spool.RejectedError synchronously and the action
// is never enqueued.
//
// Only email sending is admission-gated; other kinds are internal
// follow-on work and enqueue directly.
func (eng *Engine) SubmitAction(ctx context.Context, tenant Tenant, kind string, payload []byte) (id.JobID, error) {
	ctx = scope.Restore(ctx, tenant.ID)

	if kind == job.KindSendEmail {
		if err := eng.admitEmail(ctx, tenant); err != nil {
			return id.JobID{}, err
		}
	}

	j, err := eng.EnqueueRaw(ctx, kind, payload,
		job.WithQueue(kindQueue(kind)),
		job.WithTenant(tenant.ID),
	)
	if err != nil {
		if kind == job.KindSendEmail {
			// The reservation is spent but nothing was enqueued; give
			// the quota back.
			if relErr := eng.ledgerSvc.Release(ctx, tenant.ID, ledger.FieldEmailsSent, 1); relErr != nil {
				eng.logger.Error("release after failed enqueue",
					"tenant_id", tenant.ID,
					"reconciliation_required", true,
					"error", relErr.Error(),
				)
			}
		}
		return id.JobID{}, fmt.Errorf("spool/engine: submit %q: %w", kind, err)
	}
	return j.ID, nil
}

// admitEmail runs the send_email admission gates: per-minute rate limit
// first, then the monthly quota reserve.
func (eng *Engine) admitEmail(ctx context.Context, tenant Tenant) error {
	limits := plan.For(tenant.Plan)

	dec, err := eng.limiter.Admit(ctx, tenant.ID, job.KindSendEmail, int64(limits.EmailsPerMinute), time.Minute)
	if err != nil {
		return fmt.Errorf("spool/engine: admit: %w", err)
	}
	if !dec.Allowed {
		eng.extensions.EmitActionRejected(ctx, tenant.ID, job.KindSendEmail, spool.ReasonRateLimited)
		return &spool.RejectedError{
			Reason:     spool.ReasonRateLimited,
			TenantID:   tenant.ID,
			RetryAfter: dec.RetryAfter,
		}
	}

	if _, err := eng.ledgerSvc.Reserve(ctx, tenant.ID, ledger.FieldEmailsSent, limits.EmailsPerMonth, 1); err != nil {
		if rej, ok := spool.IsRejected(err); ok {
			eng.extensions.EmitActionRejected(ctx, tenant.ID, job.KindSendEmail, rej.Reason)
			return rej
		}
		return fmt.Errorf("spool/engine: reserve email quota: %w", err)
	}
	return nil
}

// SubmitChunk accepts one chunk of a tenant upload. Storage bytes are
// reserved against the tenant's plan before the chunk lands; a quota
// rejection returns *spool.RejectedError and stores nothing. When the
// final chunk arrives the reassembly job is enqueued and the returned
// Status reports Completed=true, exactly once per session.
func (eng *Engine) SubmitChunk(ctx context.Context, tenant Tenant, uploadID id.UploadID, chunkNo, total int, meta upload.Meta, data []byte) (upload.Status, error) {
	ctx = scope.Restore(ctx, tenant.ID)
	limits := plan.For(tenant.Plan)

	if !limits.MaxUploadBytes.IsUnlimited() && int64(len(data)) > limits.MaxUploadBytes.Value() {
		eng.extensions.EmitActionRejected(ctx, tenant.ID, "upload_chunk", spool.ReasonQuotaExceeded)
		return upload.Status{}, &spool.RejectedError{
			Reason:   spool.ReasonQuotaExceeded,
			TenantID: tenant.ID,
		}
	}

	// Reserve first so admission is checked before bytes land, then key
	// the debit off the store's atomic novelty claim: a resubmitted
	// chunk overwrites the same bytes, so its reservation is reversed.
	// Racing submissions of one chunk number all reserve, but exactly
	// one keeps the debit.
	if _, err := eng.ledgerSvc.Reserve(ctx, tenant.ID, ledger.FieldStorageBytes, limits.StorageBytes, int64(len(data))); err != nil {
		if rej, ok := spool.IsRejected(err); ok {
			eng.extensions.EmitActionRejected(ctx, tenant.ID, "upload_chunk", rej.Reason)
			return upload.Status{}, rej
		}
		return upload.Status{}, fmt.Errorf("spool/engine: reserve storage: %w", err)
	}

	st, err := eng.reassembler.SubmitChunk(ctx, tenant.ID, uploadID, chunkNo, total, meta, data)
	if err != nil || !st.NewChunk {
		// Either nothing durable was stored, or the bytes were already
		// accounted for by the submission that recorded the chunk.
		if relErr := eng.ledgerSvc.Release(ctx, tenant.ID, ledger.FieldStorageBytes, int64(len(data))); relErr != nil {
			eng.logger.Error("release after chunk submission",
				"tenant_id", tenant.ID,
				"upload_id", uploadID.String(),
				"reconciliation_required", true,
				"error", relErr.Error(),
			)
		}
	}
	if err != nil {
		return upload.Status{}, err
	}

	if st.Completed {
		eng.extensions.EmitUploadCompleted(ctx, tenant.ID, uploadID, total)
	}
	return st, nil
}

// JobStatus returns the current state of a job.
func (eng *Engine) JobStatus(ctx context.Context, jobID id.JobID) (job.State, error) {
	j, err := eng.jobStore.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	return j.State, nil
}

// UploadStatus returns the session progress for an in-flight upload.
func (eng *Engine) UploadStatus(ctx context.Context, tenant Tenant, uploadID id.UploadID) (upload.Status, error) {
	sess, err := eng.reassembler.Session(ctx, uploadID)
	if err != nil {
		return upload.Status{}, err
	}
	if sess.TenantID != tenant.ID {
		return upload.Status{}, spool.ErrSessionNotFound
	}
	return upload.Status{
		UploadID:    uploadID,
		Received:    sess.ReceivedCount(),
		TotalChunks: sess.TotalChunks,
		Completed:   sess.State == upload.StateComplete,
	}, nil
}
