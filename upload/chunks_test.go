package upload

import (
	"bytes"
	"context"
	"testing"

	"github.com/oxlane/spool/id"
)

func TestDiskChunkStore_WriteAndAssemble(t *testing.T) {
	s := NewDiskChunkStore(t.TempDir())
	ctx := context.Background()
	uploadID := id.NewUploadID()

	// Write out of order; Assemble must still concatenate ascending.
	if err := s.WriteChunk(ctx, uploadID, 2, []byte("cc")); err != nil {
		t.Fatalf("WriteChunk 2: %v", err)
	}
	if err := s.WriteChunk(ctx, uploadID, 0, []byte("aa")); err != nil {
		t.Fatalf("WriteChunk 0: %v", err)
	}
	if err := s.WriteChunk(ctx, uploadID, 1, []byte("bb")); err != nil {
		t.Fatalf("WriteChunk 1: %v", err)
	}

	var out bytes.Buffer
	if err := s.Assemble(ctx, uploadID, 3, &out); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if got := out.String(); got != "aabbcc" {
		t.Fatalf("assembled %q, want %q", got, "aabbcc")
	}
}

func TestDiskChunkStore_RewriteOverwrites(t *testing.T) {
	s := NewDiskChunkStore(t.TempDir())
	ctx := context.Background()
	uploadID := id.NewUploadID()

	s.WriteChunk(ctx, uploadID, 0, []byte("first"))
	if err := s.WriteChunk(ctx, uploadID, 0, []byte("second")); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	var out bytes.Buffer
	if err := s.Assemble(ctx, uploadID, 1, &out); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if got := out.String(); got != "second" {
		t.Fatalf("assembled %q, want %q", got, "second")
	}
}

func TestDiskChunkStore_MissingChunkFailsAssemble(t *testing.T) {
	s := NewDiskChunkStore(t.TempDir())
	ctx := context.Background()
	uploadID := id.NewUploadID()

	s.WriteChunk(ctx, uploadID, 0, []byte("aa"))
	// Chunk 1 never written.
	var out bytes.Buffer
	if err := s.Assemble(ctx, uploadID, 2, &out); err == nil {
		t.Fatal("expected error for missing chunk")
	}
}

func TestDiskChunkStore_DeleteChunks(t *testing.T) {
	s := NewDiskChunkStore(t.TempDir())
	ctx := context.Background()
	uploadID := id.NewUploadID()

	s.WriteChunk(ctx, uploadID, 0, []byte("aa"))
	if err := s.DeleteChunks(ctx, uploadID); err != nil {
		t.Fatalf("DeleteChunks: %v", err)
	}

	var out bytes.Buffer
	if err := s.Assemble(ctx, uploadID, 1, &out); err == nil {
		t.Fatal("expected error after chunks deleted")
	}

	// Deleting again is a no-op.
	if err := s.DeleteChunks(ctx, uploadID); err != nil {
		t.Fatalf("second DeleteChunks: %v", err)
	}
}
