package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oxlane/spool"
	"github.com/oxlane/spool/job"
	"github.com/oxlane/spool/ledger"
	"github.com/oxlane/spool/scope"
)

// Email is the payload of a send_email job. The sending tenant travels
// on the job row, not in the payload; handlers read it from the context.
type Email struct {
	MessageID     string   `json:"message_id"`
	From          string   `json:"from"`
	To            []string `json:"to"`
	CC            []string `json:"cc,omitempty"`
	Subject       string   `json:"subject"`
	TextBody      string   `json:"text_body,omitempty"`
	HTMLBody      string   `json:"html_body,omitempty"`
	InReplyTo     string   `json:"in_reply_to,omitempty"`
	AttachmentIDs []string `json:"attachment_ids,omitempty"`
}

// Mailer hands a composed message to the outbound transport (SMTP
// relay, provider API). Send returning nil means the transport accepted
// the message for delivery.
type Mailer interface {
	Send(ctx context.Context, msg *Email) error
}

// EmailStatus is the delivery outcome persisted on the message record.
type EmailStatus string

const (
	EmailStatusSent   EmailStatus = "sent"
	EmailStatusFailed EmailStatus = "failed"
)

// EmailStatusStore persists delivery outcomes on message records. It
// lives in the layer that owns mail metadata, outside this module.
// Status returns the empty string for a message with no recorded
// outcome yet.
type EmailStatusStore interface {
	Status(ctx context.Context, tenantID, messageID string) (EmailStatus, error)
	SetStatus(ctx context.Context, tenantID, messageID string, status EmailStatus) error
}

// SendEmail builds the send_email handler. The persisted message status
// is the idempotency guard: a redelivered job whose record already
// shows sent returns without touching the transport, so a stale
// requeue cannot double-send. The email quota was reserved at
// submission; the handler commits it once the transport accepts the
// message. Transport errors are returned unclassified and retried with
// backoff — the status flip to failed and the compensating quota
// release for jobs that exhaust their attempts are done by the
// Compensator extension, which sees the terminal failure.
func SendEmail(mailer Mailer, statuses EmailStatusStore, led *ledger.Service, logger *slog.Logger) *job.Definition[Email] {
	return job.NewDefinition(job.KindSendEmail,
		func(ctx context.Context, p Email) error {
			if len(p.To) == 0 {
				return job.Permanent(fmt.Errorf("spool/tasks: email has no recipients"))
			}
			tenantID := scope.Capture(ctx)

			if p.MessageID != "" {
				st, err := statuses.Status(ctx, tenantID, p.MessageID)
				if err != nil {
					return fmt.Errorf("spool/tasks: email status %s: %w", p.MessageID, err)
				}
				if st == EmailStatusSent {
					return nil
				}
			}

			if err := mailer.Send(ctx, &p); err != nil {
				return fmt.Errorf("spool/tasks: send email: %w", err)
			}

			// The message is already on the wire: a failed status write
			// must not trigger a retry that sends it again.
			if p.MessageID != "" {
				if err := statuses.SetStatus(ctx, tenantID, p.MessageID, EmailStatusSent); err != nil {
					logger.Error("mark email sent",
						"tenant_id", tenantID,
						"message_id", p.MessageID,
						"reconciliation_required", true,
						"error", err.Error(),
					)
				}
			}
			led.Commit(ctx, tenantID, ledger.FieldEmailsSent, 1)
			return nil
		},
		job.WithQueue(spool.QueueEmails),
	)
}

// RecordReceived debits one received email against the tenant's ledger.
// Inbound delivery is not a job — the MX path calls this directly — but
// the counter lives next to the other usage fields.
func RecordReceived(ctx context.Context, led *ledger.Service, tenantID string) error {
	_, err := led.Record(ctx, tenantID, ledger.FieldEmailsReceived, 1)
	return err
}
