package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/oxlane/spool"
	"github.com/oxlane/spool/id"
	"github.com/oxlane/spool/upload"
)

// sessionEntity is the JSON shape stored for an upload session. The
// received-chunk set lives in a separate Redis Set so AddChunk never has
// to rewrite the whole document; GetSession rebuilds Received from it.
type sessionEntity struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenant_id"`
	TotalChunks int         `json:"total_chunks"`
	Meta        upload.Meta `json:"meta"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func toSessionEntity(s *upload.Session) *sessionEntity {
	return &sessionEntity{
		ID:          s.ID.String(),
		TenantID:    s.TenantID,
		TotalChunks: s.TotalChunks,
		Meta:        s.Meta,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func fromSessionEntity(e *sessionEntity) (*upload.Session, error) {
	uploadID, err := id.ParseUploadID(e.ID)
	if err != nil {
		return nil, fmt.Errorf("spool/redis: parse upload id: %w", err)
	}
	return &upload.Session{
		Entity: spool.Entity{
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.UpdatedAt,
		},
		ID:          uploadID,
		TenantID:    e.TenantID,
		TotalChunks: e.TotalChunks,
		Meta:        e.Meta,
	}, nil
}

// addChunkScript atomically records a chunk and claims completion. The
// completion claim is a GETSET on the state key so exactly one caller
// across all processes observes the collecting→complete transition.
//
// KEYS[1] = chunks Set, KEYS[2] = state key
// ARGV[1] = chunk number, ARGV[2] = total chunks
// Returns {received, completed(0|1)}.
var addChunkScript = goredis.NewScript(`
local added = redis.call('SADD', KEYS[1], ARGV[1])
local received = redis.call('SCARD', KEYS[1])
if received == tonumber(ARGV[2]) then
	local prev = redis.call('GETSET', KEYS[2], 'complete')
	if prev ~= 'complete' then
		return {received, added, 1}
	end
end
return {received, added, 0}
`)

// EnsureSession returns the existing session for s.ID, creating it from
// s if absent.
func (s *Store) EnsureSession(ctx context.Context, sess *upload.Session) (*upload.Session, error) {
	sID := sess.ID.String()
	key := sessionKey(sID)

	// SETNX the entity document: create-or-get, never an overwrite.
	data, err := json.Marshal(toSessionEntity(sess))
	if err != nil {
		return nil, fmt.Errorf("spool/redis: marshal session: %w", err)
	}
	created, err := s.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("spool/redis: ensure session: %w", err)
	}
	if created {
		pipe := s.client.TxPipeline()
		pipe.SAdd(ctx, sessionIDsKey, sID)
		pipe.SetNX(ctx, sessionStateKey(sID), string(upload.StateCollecting), 0)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("spool/redis: ensure session index: %w", err)
		}
	}
	return s.GetSession(ctx, sess.ID)
}

// GetSession retrieves a session, rebuilding the received-chunk map from
// the chunks Set.
func (s *Store) GetSession(ctx context.Context, uploadID id.UploadID) (*upload.Session, error) {
	sID := uploadID.String()

	var e sessionEntity
	if err := s.getEntity(ctx, sessionKey(sID), &e); err != nil {
		if isRedisNil(err) {
			return nil, spool.ErrSessionNotFound
		}
		return nil, fmt.Errorf("spool/redis: get session: %w", err)
	}
	sess, err := fromSessionEntity(&e)
	if err != nil {
		return nil, err
	}

	chunks, err := s.client.SMembers(ctx, sessionChunksKey(sID)).Result()
	if err != nil {
		return nil, fmt.Errorf("spool/redis: session chunks: %w", err)
	}
	sess.Received = make(map[int]bool, len(chunks))
	for _, c := range chunks {
		var n int
		if _, scanErr := fmt.Sscanf(c, "%d", &n); scanErr == nil {
			sess.Received[n] = true
		}
	}

	state, err := s.client.Get(ctx, sessionStateKey(sID)).Result()
	if err != nil && !isRedisNil(err) {
		return nil, fmt.Errorf("spool/redis: session state: %w", err)
	}
	sess.State = upload.StateCollecting
	if state == string(upload.StateComplete) {
		sess.State = upload.StateComplete
	}
	return sess, nil
}

// AddChunk records chunkNo as received, atomically claiming novelty
// (via SADD's added count) and completion when the final missing chunk
// arrives.
func (s *Store) AddChunk(ctx context.Context, uploadID id.UploadID, chunkNo int) (int, bool, bool, error) {
	sID := uploadID.String()

	var e sessionEntity
	if err := s.getEntity(ctx, sessionKey(sID), &e); err != nil {
		if isRedisNil(err) {
			return 0, false, false, spool.ErrSessionNotFound
		}
		return 0, false, false, fmt.Errorf("spool/redis: add chunk: %w", err)
	}

	res, err := addChunkScript.Run(ctx, s.client,
		[]string{sessionChunksKey(sID), sessionStateKey(sID)},
		chunkNo, e.TotalChunks,
	).Int64Slice()
	if err != nil {
		return 0, false, false, fmt.Errorf("spool/redis: add chunk script: %w", err)
	}
	if len(res) != 3 {
		return 0, false, false, fmt.Errorf("spool/redis: add chunk script: unexpected result %v", res)
	}
	return int(res[0]), res[1] == 1, res[2] == 1, nil
}

// DeleteSession removes a session and its chunk bookkeeping.
func (s *Store) DeleteSession(ctx context.Context, uploadID id.UploadID) error {
	sID := uploadID.String()

	exists, err := s.client.Exists(ctx, sessionKey(sID)).Result()
	if err != nil {
		return fmt.Errorf("spool/redis: delete session exists: %w", err)
	}
	if exists == 0 {
		return spool.ErrSessionNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(sID), sessionChunksKey(sID), sessionStateKey(sID))
	pipe.SRem(ctx, sessionIDsKey, sID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("spool/redis: delete session: %w", err)
	}
	return nil
}

// ListExpiredSessions returns sessions created before the cutoff.
func (s *Store) ListExpiredSessions(ctx context.Context, before time.Time) ([]*upload.Session, error) {
	ids, err := s.client.SMembers(ctx, sessionIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("spool/redis: list sessions: %w", err)
	}

	var expired []*upload.Session
	for _, sID := range ids {
		var e sessionEntity
		if getErr := s.getEntity(ctx, sessionKey(sID), &e); getErr != nil {
			continue
		}
		if !e.CreatedAt.Before(before) {
			continue
		}
		uploadID, parseErr := id.ParseUploadID(sID)
		if parseErr != nil {
			continue
		}
		sess, getErr := s.GetSession(ctx, uploadID)
		if getErr != nil {
			continue
		}
		expired = append(expired, sess)
	}

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].CreatedAt.Before(expired[j].CreatedAt)
	})
	return expired, nil
}
