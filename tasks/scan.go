package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oxlane/spool"
	"github.com/oxlane/spool/job"
	"github.com/oxlane/spool/scope"
)

// Verdict is a scanner's conclusion about one file.
type Verdict string

const (
	VerdictClean    Verdict = "clean"
	VerdictInfected Verdict = "infected"
)

// FileStatus is the scan outcome persisted on the file record.
type FileStatus string

const (
	StatusClean      FileStatus = "clean"
	StatusInfected   FileStatus = "infected"
	StatusScanFailed FileStatus = "scan_failed"
)

// Scanner inspects a stored file for malware. Implementations resolve
// the file contents themselves (disk path, object store) from the
// tenant and file IDs.
type Scanner interface {
	Scan(ctx context.Context, tenantID, fileID string) (Verdict, error)
}

// FileStatusStore persists scan outcomes on file records. It lives in
// the layer that owns file metadata, outside this module.
type FileStatusStore interface {
	SetStatus(ctx context.Context, tenantID, fileID string, status FileStatus) error
}

// ScanPayload is the payload of a scan_file job.
type ScanPayload struct {
	FileID string `json:"file_id"`
}

// ScanFile builds the scan_file handler. A scanner error marks the file
// scan_failed and retries; the status flips to clean or infected when a
// later attempt succeeds. A file that no longer exists is a permanent
// failure — deletion between upload and scan is routine.
func ScanFile(scanner Scanner, statuses FileStatusStore, logger *slog.Logger) *job.Definition[ScanPayload] {
	return job.NewDefinition(job.KindScanFile,
		func(ctx context.Context, p ScanPayload) error {
			tenantID := scope.Capture(ctx)

			verdict, err := scanner.Scan(ctx, tenantID, p.FileID)
			if err != nil {
				if errors.Is(err, spool.ErrFileNotFound) {
					return job.Permanent(fmt.Errorf("spool/tasks: scan %s: %w", p.FileID, err))
				}
				if setErr := statuses.SetStatus(ctx, tenantID, p.FileID, StatusScanFailed); setErr != nil {
					logger.Error("mark file scan_failed",
						"tenant_id", tenantID,
						"file_id", p.FileID,
						"error", setErr.Error(),
					)
				}
				return fmt.Errorf("spool/tasks: scan %s: %w", p.FileID, err)
			}

			status := StatusClean
			if verdict == VerdictInfected {
				status = StatusInfected
				logger.Warn("infected file detected",
					"tenant_id", tenantID,
					"file_id", p.FileID,
				)
			}
			if err := statuses.SetStatus(ctx, tenantID, p.FileID, status); err != nil {
				return fmt.Errorf("spool/tasks: set status %s on %s: %w", status, p.FileID, err)
			}
			return nil
		},
		job.WithQueue(spool.QueueFiles),
	)
}
