package tasks

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/oxlane/spool/ext"
	"github.com/oxlane/spool/job"
	"github.com/oxlane/spool/ledger"
)

// Compensator settles the side effects of terminally failed jobs.
// Email quota is reserved at submission; when a send_email job runs out
// of attempts the message was never delivered, so the reservation is
// released here and the message record flips to failed. Storage debits
// are not handled: abandoned upload bytes are released by the session
// cleanup job, which knows what is on disk.
type Compensator struct {
	led      *ledger.Service
	statuses EmailStatusStore
	logger   *slog.Logger
}

var _ ext.JobFailed = (*Compensator)(nil)

// NewCompensator creates the compensating extension. statuses may be
// nil when no message-record store is wired; status flips are skipped.
func NewCompensator(led *ledger.Service, statuses EmailStatusStore, logger *slog.Logger) *Compensator {
	return &Compensator{led: led, statuses: statuses, logger: logger}
}

func (c *Compensator) Name() string { return "quota-compensator" }

// OnJobFailed marks the message failed and releases the email
// reservation for terminally failed send_email jobs. A failed release
// leaves the counter overstated until the monthly reset, so it is
// flagged for reconciliation.
func (c *Compensator) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	if j.Name != job.KindSendEmail || j.TenantID == "" {
		return nil
	}

	if c.statuses != nil {
		var p Email
		if err := json.Unmarshal(j.Payload, &p); err == nil && p.MessageID != "" {
			if err := c.statuses.SetStatus(ctx, j.TenantID, p.MessageID, EmailStatusFailed); err != nil {
				c.logger.Error("mark email failed after terminal failure",
					"job_id", j.ID.String(),
					"tenant_id", j.TenantID,
					"message_id", p.MessageID,
					"error", err.Error(),
				)
			}
		}
	}

	if err := c.led.Release(ctx, j.TenantID, ledger.FieldEmailsSent, 1); err != nil {
		c.logger.Error("release email quota after terminal failure",
			"job_id", j.ID.String(),
			"tenant_id", j.TenantID,
			"reconciliation_required", true,
			"error", err.Error(),
		)
		return err
	}
	return nil
}
