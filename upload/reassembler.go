package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oxlane/spool"
	"github.com/oxlane/spool/id"
	"github.com/oxlane/spool/job"
)

// ReassemblePayload is the payload of the reassemble_upload job enqueued
// when a session completes.
type ReassemblePayload struct {
	UploadID    id.UploadID `json:"upload_id"`
	TenantID    string      `json:"tenant_id"`
	TotalChunks int         `json:"total_chunks"`
	Meta        Meta        `json:"meta"`
}

// Reassembler accepts chunks, tracks sessions, and hands completed
// uploads to the job queue for reassembly.
type Reassembler struct {
	sessions SessionStore
	chunks   ChunkStore
	jobs     job.Store
	logger   *slog.Logger
}

// NewReassembler creates a Reassembler.
func NewReassembler(sessions SessionStore, chunks ChunkStore, jobs job.Store, logger *slog.Logger) *Reassembler {
	return &Reassembler{sessions: sessions, chunks: chunks, jobs: jobs, logger: logger}
}

// SubmitChunk stores one chunk of an upload. The session is created
// lazily on whichever chunk arrives first; meta is taken from that
// first submission. Chunks are idempotent: resubmitting a number
// overwrites the same bytes and does not double-count.
//
// The returned Status reports Completed=true on exactly one submission
// per session — the one that delivered the final missing chunk and
// enqueued the reassemble_upload job.
func (r *Reassembler) SubmitChunk(ctx context.Context, tenantID string, uploadID id.UploadID, chunkNo, total int, meta Meta, data []byte) (Status, error) {
	if total <= 0 {
		return Status{}, fmt.Errorf("spool/upload: total chunks must be positive, got %d: %w", total, spool.ErrInvalidState)
	}
	if chunkNo < 0 || chunkNo >= total {
		return Status{}, fmt.Errorf("spool/upload: chunk %d outside [0,%d): %w", chunkNo, total, spool.ErrChunkOutOfRange)
	}

	sess, err := r.sessions.EnsureSession(ctx, &Session{
		Entity:      spool.NewEntity(),
		ID:          uploadID,
		TenantID:    tenantID,
		TotalChunks: total,
		Received:    make(map[int]bool),
		State:       StateCollecting,
		Meta:        meta,
	})
	if err != nil {
		return Status{}, fmt.Errorf("spool/upload: ensure session: %w", err)
	}
	// A chunk for someone else's session gets the same answer as a
	// session that does not exist.
	if sess.TenantID != tenantID {
		return Status{}, spool.ErrSessionNotFound
	}
	if sess.TotalChunks != total {
		return Status{}, fmt.Errorf("spool/upload: total %d does not match session total %d: %w", total, sess.TotalChunks, spool.ErrInvalidState)
	}

	// Chunk bytes land before the session records the chunk, so a
	// completion claim always implies every chunk is durable.
	if err := r.chunks.WriteChunk(ctx, uploadID, chunkNo, data); err != nil {
		return Status{}, err
	}

	received, novel, completed, err := r.sessions.AddChunk(ctx, uploadID, chunkNo)
	if err != nil {
		return Status{}, fmt.Errorf("spool/upload: add chunk: %w", err)
	}

	st := Status{UploadID: uploadID, Received: received, TotalChunks: total, NewChunk: novel, Completed: completed}
	if !completed {
		return st, nil
	}

	if err := r.enqueueReassembly(ctx, sess); err != nil {
		// The claim is spent; surface the error so the caller can retry
		// the enqueue (AddChunk will not claim again).
		return st, err
	}
	r.logger.Info("upload complete, reassembly enqueued",
		slog.String("upload_id", uploadID.String()),
		slog.String("tenant_id", tenantID),
		slog.Int("total_chunks", total),
	)
	return st, nil
}

func (r *Reassembler) enqueueReassembly(ctx context.Context, sess *Session) error {
	payload, err := json.Marshal(ReassemblePayload{
		UploadID:    sess.ID,
		TenantID:    sess.TenantID,
		TotalChunks: sess.TotalChunks,
		Meta:        sess.Meta,
	})
	if err != nil {
		return fmt.Errorf("spool/upload: marshal reassembly payload: %w", err)
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:      spool.NewEntity(),
		ID:          id.NewJobID(),
		Name:        job.KindReassembleUpload,
		Queue:       spool.QueueFiles,
		TenantID:    sess.TenantID,
		Payload:     payload,
		State:       job.StatePending,
		MaxAttempts: job.DefaultOptions().MaxAttempts,
		RunAt:       now,
	}
	if err := r.jobs.EnqueueJob(ctx, j); err != nil {
		return fmt.Errorf("spool/upload: enqueue reassembly: %w", err)
	}
	return nil
}

// Session exposes the session row for status queries.
func (r *Reassembler) Session(ctx context.Context, uploadID id.UploadID) (*Session, error) {
	return r.sessions.GetSession(ctx, uploadID)
}
