// Package upload implements chunked upload reassembly.
//
// Clients stream a file as numbered chunks that may arrive out of order
// and more than once. A [Session] tracks which chunk numbers have been
// received; when the last missing chunk arrives the session completes
// exactly once and a reassemble_upload job is enqueued to concatenate
// the chunks into the final file.
package upload

import (
	"time"

	"github.com/oxlane/spool"
	"github.com/oxlane/spool/id"
)

// State describes where a session is in its lifecycle.
type State string

const (
	// StateCollecting means the session is still waiting for chunks.
	StateCollecting State = "collecting"
	// StateComplete means every chunk has arrived and the reassembly
	// job has been enqueued.
	StateComplete State = "complete"
)

// Meta carries the file metadata supplied with the first chunk.
type Meta struct {
	// TargetName is the final file name.
	TargetName string `json:"target_name"`
	// MIMEType is the declared content type.
	MIMEType string `json:"mime_type"`
	// FolderID is the destination folder, empty for the tenant root.
	FolderID string `json:"folder_id,omitempty"`
}

// Session tracks one in-flight chunked upload.
type Session struct {
	spool.Entity

	ID          id.UploadID  `json:"id"`
	TenantID    string       `json:"tenant_id"`
	TotalChunks int          `json:"total_chunks"`
	Received    map[int]bool `json:"received"`
	State       State        `json:"state"`
	Meta        Meta         `json:"meta"`
}

// ReceivedCount returns how many distinct chunks have arrived.
func (s *Session) ReceivedCount() int { return len(s.Received) }

// ExpiredBy reports whether the session is older than ttl at the given
// time. Abandoned sessions are reclaimed by the cleanup job.
func (s *Session) ExpiredBy(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.CreatedAt) > ttl
}

// Status is what SubmitChunk reports back to the caller.
type Status struct {
	UploadID    id.UploadID `json:"upload_id"`
	Received    int         `json:"received"`
	TotalChunks int         `json:"total_chunks"`
	// NewChunk is true only on the submission that recorded this chunk
	// number for the first time; resubmissions see false. Quota
	// accounting keys off this.
	NewChunk bool `json:"new_chunk"`
	// Completed is true only on the submission that delivered the final
	// missing chunk. Every other submission, including duplicates after
	// completion, sees false.
	Completed bool `json:"completed"`
}
