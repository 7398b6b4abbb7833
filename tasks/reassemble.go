package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/oxlane/spool"
	"github.com/oxlane/spool/id"
	"github.com/oxlane/spool/job"
	"github.com/oxlane/spool/ledger"
	"github.com/oxlane/spool/upload"
)

// FileSink receives the reassembled file. Implementations write to the
// tenant's drive (disk tree, object store) and make the file visible
// only when Close returns nil, so a retried job overwrites a partial
// write instead of leaking it.
type FileSink interface {
	Create(ctx context.Context, tenantID string, uploadID id.UploadID, meta upload.Meta) (io.WriteCloser, error)
}

// ReassembleUpload builds the reassemble_upload handler. It streams the
// chunks in order into the sink, commits the storage debit made at
// chunk submission, then deletes chunks and finally the session. The
// session goes last: a crash anywhere earlier leaves it in place, and
// the retry redoes the whole sequence (every step is an idempotent
// overwrite or delete).
//
// A missing session is permanent — the TTL cleanup reclaimed it, or a
// previous attempt already finished and deleted it after the job row
// update was lost.
func ReassembleUpload(sessions upload.SessionStore, chunks upload.ChunkStore, sink FileSink, led *ledger.Service, logger *slog.Logger) *job.Definition[upload.ReassemblePayload] {
	return job.NewDefinition(job.KindReassembleUpload,
		func(ctx context.Context, p upload.ReassemblePayload) error {
			sess, err := sessions.GetSession(ctx, p.UploadID)
			if err != nil {
				if errors.Is(err, spool.ErrSessionNotFound) {
					return job.Permanent(err)
				}
				return fmt.Errorf("spool/tasks: load session %s: %w", p.UploadID, err)
			}

			w, err := sink.Create(ctx, sess.TenantID, sess.ID, sess.Meta)
			if err != nil {
				return fmt.Errorf("spool/tasks: create file for %s: %w", p.UploadID, err)
			}
			written := &countingWriter{w: w}
			if err := chunks.Assemble(ctx, sess.ID, sess.TotalChunks, written); err != nil {
				w.Close() //nolint:errcheck // assembly already failed
				return fmt.Errorf("spool/tasks: assemble %s: %w", p.UploadID, err)
			}
			if err := w.Close(); err != nil {
				return fmt.Errorf("spool/tasks: finalize %s: %w", p.UploadID, err)
			}

			led.Commit(ctx, sess.TenantID, ledger.FieldStorageBytes, written.n)

			if err := chunks.DeleteChunks(ctx, sess.ID); err != nil {
				return fmt.Errorf("spool/tasks: delete chunks %s: %w", p.UploadID, err)
			}
			if err := sessions.DeleteSession(ctx, sess.ID); err != nil {
				return fmt.Errorf("spool/tasks: delete session %s: %w", p.UploadID, err)
			}

			logger.Info("upload reassembled",
				"tenant_id", sess.TenantID,
				"upload_id", sess.ID.String(),
				"name", sess.Meta.TargetName,
				"bytes", written.n,
			)
			return nil
		},
		job.WithQueue(spool.QueueFiles),
		job.WithTimeout(15*time.Minute),
	)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
