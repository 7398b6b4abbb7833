package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/oxlane/spool/id"
)

// ChunkStore holds raw chunk bytes between arrival and reassembly.
type ChunkStore interface {
	// WriteChunk stores the bytes for one chunk. Rewriting the same
	// chunk number overwrites the previous bytes (idempotent retry).
	WriteChunk(ctx context.Context, uploadID id.UploadID, chunkNo int, data []byte) error

	// Assemble streams chunks 0..total-1 in ascending order into dst.
	// A missing chunk is an error.
	Assemble(ctx context.Context, uploadID id.UploadID, total int, dst io.Writer) error

	// DeleteChunks removes all chunk data for a session.
	DeleteChunks(ctx context.Context, uploadID id.UploadID) error
}

// DiskChunkStore keeps chunks as files under root/<uploadID>/chunk_<n>.
// Chunk payloads are opaque blobs with no queryable structure, so a
// plain directory per session beats putting them in a database.
type DiskChunkStore struct {
	root string
}

// NewDiskChunkStore creates a chunk store rooted at dir.
func NewDiskChunkStore(dir string) *DiskChunkStore {
	return &DiskChunkStore{root: dir}
}

func (s *DiskChunkStore) sessionDir(uploadID id.UploadID) string {
	return filepath.Join(s.root, uploadID.String())
}

func (s *DiskChunkStore) chunkPath(uploadID id.UploadID, chunkNo int) string {
	return filepath.Join(s.sessionDir(uploadID), fmt.Sprintf("chunk_%d", chunkNo))
}

// WriteChunk writes the chunk through a temp file and renames it into
// place so a crashed write never leaves a truncated chunk behind.
func (s *DiskChunkStore) WriteChunk(_ context.Context, uploadID id.UploadID, chunkNo int, data []byte) error {
	dir := s.sessionDir(uploadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("spool/upload: mkdir session dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "chunk_*.tmp")
	if err != nil {
		return fmt.Errorf("spool/upload: create temp chunk: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("spool/upload: write chunk %d: %w", chunkNo, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("spool/upload: close chunk %d: %w", chunkNo, err)
	}
	if err := os.Rename(tmpName, s.chunkPath(uploadID, chunkNo)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("spool/upload: place chunk %d: %w", chunkNo, err)
	}
	return nil
}

// Assemble concatenates chunks in ascending chunk-number order.
func (s *DiskChunkStore) Assemble(ctx context.Context, uploadID id.UploadID, total int, dst io.Writer) error {
	for n := range total {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := os.Open(s.chunkPath(uploadID, n))
		if err != nil {
			return fmt.Errorf("spool/upload: open chunk %d: %w", n, err)
		}
		_, err = io.Copy(dst, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("spool/upload: copy chunk %d: %w", n, err)
		}
	}
	return nil
}

// ChunkBytes returns the total bytes held on disk for a session. The
// cleanup job uses it to reverse the storage debit of abandoned
// uploads. A session with no chunks reports zero, not an error.
func (s *DiskChunkStore) ChunkBytes(_ context.Context, uploadID id.UploadID) (int64, error) {
	entries, err := os.ReadDir(s.sessionDir(uploadID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("spool/upload: read session dir: %w", err)
	}
	var total int64
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return 0, fmt.Errorf("spool/upload: stat chunk %s: %w", e.Name(), err)
		}
		total += info.Size()
	}
	return total, nil
}

// DeleteChunks removes the session directory and everything in it.
func (s *DiskChunkStore) DeleteChunks(_ context.Context, uploadID id.UploadID) error {
	if err := os.RemoveAll(s.sessionDir(uploadID)); err != nil {
		return fmt.Errorf("spool/upload: delete chunks: %w", err)
	}
	return nil
}
