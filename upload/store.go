package upload

import (
	"context"
	"time"

	"github.com/oxlane/spool/id"
)

// SessionStore defines the persistence contract for upload sessions.
//
// AddChunk is the linchpin: it must atomically record the chunk and
// decide completion, so that exactly one caller across all processes
// observes completed=true per session no matter how chunks race.
type SessionStore interface {
	// EnsureSession returns the existing session for s.ID, creating it
	// from s if absent. Create-or-get, never an overwrite.
	EnsureSession(ctx context.Context, s *Session) (*Session, error)

	// GetSession retrieves a session, or spool.ErrSessionNotFound.
	GetSession(ctx context.Context, uploadID id.UploadID) (*Session, error)

	// AddChunk records chunkNo as received. Duplicate chunk numbers are
	// idempotent. Returns the distinct received count, whether this call
	// recorded the chunk for the first time (novel is true exactly once
	// per chunk number), and whether this call completed the session
	// (completed is true exactly once per session). Both claims are
	// atomic, so racing callers agree on who was first.
	AddChunk(ctx context.Context, uploadID id.UploadID, chunkNo int) (received int, novel, completed bool, err error)

	// DeleteSession removes a session. Called after the reassembly job
	// succeeds, or by the TTL cleanup for abandoned sessions.
	DeleteSession(ctx context.Context, uploadID id.UploadID) error

	// ListExpiredSessions returns sessions created before the cutoff.
	ListExpiredSessions(ctx context.Context, before time.Time) ([]*Session, error)
}
