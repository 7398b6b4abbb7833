package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oxlane/spool"
	"github.com/oxlane/spool/id"
	"github.com/oxlane/spool/upload"
)

// EnsureSession returns the existing session for s.ID, creating it from
// sess if absent. ON CONFLICT DO NOTHING makes the create-or-get atomic.
func (s *Store) EnsureSession(ctx context.Context, sess *upload.Session) (*upload.Session, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO spool_upload_sessions (
			id, tenant_id, total_chunks, state,
			target_name, mime_type, folder_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		sess.ID.String(), sess.TenantID, sess.TotalChunks, string(upload.StateCollecting),
		sess.Meta.TargetName, sess.Meta.MIMEType, sess.Meta.FolderID,
		sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("spool/postgres: ensure session: %w", err)
	}
	return s.GetSession(ctx, sess.ID)
}

// GetSession retrieves a session along with its received chunk numbers.
func (s *Store) GetSession(ctx context.Context, uploadID id.UploadID) (*upload.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, tenant_id, total_chunks, state,
			target_name, mime_type, folder_id, created_at, updated_at
		FROM spool_upload_sessions
		WHERE id = $1`,
		uploadID.String(),
	)

	sess, err := scanSession(row)
	if err != nil {
		if isNoRows(err) {
			return nil, spool.ErrSessionNotFound
		}
		return nil, fmt.Errorf("spool/postgres: get session: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT chunk_no FROM spool_upload_chunks WHERE upload_id = $1`,
		uploadID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("spool/postgres: session chunks: %w", err)
	}
	defer rows.Close()

	sess.Received = make(map[int]bool)
	for rows.Next() {
		var n int
		if scanErr := rows.Scan(&n); scanErr != nil {
			return nil, fmt.Errorf("spool/postgres: scan chunk row: %w", scanErr)
		}
		sess.Received[n] = true
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("spool/postgres: iterate chunk rows: %w", err)
	}
	return sess, nil
}

// AddChunk records chunkNo as received. Novelty is the insert's row
// count (ON CONFLICT DO NOTHING), and the completion claim is a
// conditional UPDATE on the session state inside the same transaction,
// so exactly one caller observes each of the two transitions.
func (s *Store) AddChunk(ctx context.Context, uploadID id.UploadID, chunkNo int) (int, bool, bool, error) {
	uID := uploadID.String()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, false, false, fmt.Errorf("spool/postgres: add chunk begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var totalChunks int
	err = tx.QueryRow(ctx,
		`SELECT total_chunks FROM spool_upload_sessions WHERE id = $1`,
		uID,
	).Scan(&totalChunks)
	if err != nil {
		if isNoRows(err) {
			return 0, false, false, spool.ErrSessionNotFound
		}
		return 0, false, false, fmt.Errorf("spool/postgres: add chunk session: %w", err)
	}

	insTag, err := tx.Exec(ctx, `
		INSERT INTO spool_upload_chunks (upload_id, chunk_no)
		VALUES ($1, $2)
		ON CONFLICT (upload_id, chunk_no) DO NOTHING`,
		uID, chunkNo,
	)
	if err != nil {
		return 0, false, false, fmt.Errorf("spool/postgres: add chunk insert: %w", err)
	}
	novel := insTag.RowsAffected() == 1

	var received int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM spool_upload_chunks WHERE upload_id = $1`,
		uID,
	).Scan(&received)
	if err != nil {
		return 0, false, false, fmt.Errorf("spool/postgres: add chunk count: %w", err)
	}

	completed := false
	if received == totalChunks {
		tag, claimErr := tx.Exec(ctx, `
			UPDATE spool_upload_sessions
			SET state = $2, updated_at = NOW()
			WHERE id = $1 AND state = $3`,
			uID, string(upload.StateComplete), string(upload.StateCollecting),
		)
		if claimErr != nil {
			return 0, false, false, fmt.Errorf("spool/postgres: add chunk claim: %w", claimErr)
		}
		completed = tag.RowsAffected() == 1
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, false, false, fmt.Errorf("spool/postgres: add chunk commit: %w", err)
	}
	return received, novel, completed, nil
}

// DeleteSession removes a session; chunk rows cascade.
func (s *Store) DeleteSession(ctx context.Context, uploadID id.UploadID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM spool_upload_sessions WHERE id = $1`,
		uploadID.String(),
	)
	if err != nil {
		return fmt.Errorf("spool/postgres: delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return spool.ErrSessionNotFound
	}
	return nil
}

// ListExpiredSessions returns sessions created before the cutoff.
func (s *Store) ListExpiredSessions(ctx context.Context, before time.Time) ([]*upload.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id, tenant_id, total_chunks, state,
			target_name, mime_type, folder_id, created_at, updated_at
		FROM spool_upload_sessions
		WHERE created_at < $1
		ORDER BY created_at ASC`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("spool/postgres: list expired sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*upload.Session
	for rows.Next() {
		sess, scanErr := scanSession(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("spool/postgres: scan session row: %w", scanErr)
		}
		sessions = append(sessions, sess)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("spool/postgres: iterate session rows: %w", err)
	}
	return sessions, nil
}

// scanSession scans a single session row, without chunk numbers.
func scanSession(row pgx.Row) (*upload.Session, error) {
	var (
		sess     upload.Session
		idStr    string
		stateStr string
	)
	err := row.Scan(
		&idStr, &sess.TenantID, &sess.TotalChunks, &stateStr,
		&sess.Meta.TargetName, &sess.Meta.MIMEType, &sess.Meta.FolderID,
		&sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.State = upload.State(stateStr)

	parsedID, parseErr := id.ParseUploadID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("spool/postgres: parse upload id %q: %w", idStr, parseErr)
	}
	sess.ID = parsedID

	return &sess, nil
}
