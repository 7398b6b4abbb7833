package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/oxlane/spool"
	"github.com/oxlane/spool/cron"
	"github.com/oxlane/spool/id"
)

// ── JSON model for entity storage ──

type cronEntity struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	JobName     string     `json:"job_name"`
	Queue       string     `json:"queue"`
	Payload     []byte     `json:"payload,omitempty"`
	TenantID    string     `json:"tenant_id,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
	LockedBy    string     `json:"locked_by"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	Enabled     bool       `json:"enabled"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toCronEntity(e *cron.Entry) *cronEntity {
	return &cronEntity{
		ID:          e.ID.String(),
		Name:        e.Name,
		Schedule:    e.Schedule,
		JobName:     e.JobName,
		Queue:       e.Queue,
		Payload:     e.Payload,
		TenantID:    e.TenantID,
		LastRunAt:   e.LastRunAt,
		NextRunAt:   e.NextRunAt,
		LockedBy:    e.LockedBy,
		LockedUntil: e.LockedUntil,
		Enabled:     e.Enabled,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func fromCronEntity(e *cronEntity) (*cron.Entry, error) {
	eID, err := id.ParseCronID(e.ID)
	if err != nil {
		return nil, fmt.Errorf("spool/redis: parse cron id: %w", err)
	}

	return &cron.Entry{
		Entity: spool.Entity{
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.UpdatedAt,
		},
		ID:          eID,
		Name:        e.Name,
		Schedule:    e.Schedule,
		JobName:     e.JobName,
		Queue:       e.Queue,
		Payload:     e.Payload,
		TenantID:    e.TenantID,
		LastRunAt:   e.LastRunAt,
		NextRunAt:   e.NextRunAt,
		LockedBy:    e.LockedBy,
		LockedUntil: e.LockedUntil,
		Enabled:     e.Enabled,
	}, nil
}

// RegisterCron persists a new cron entry.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	eID := entry.ID.String()
	key := cronKey(eID)

	// Check for duplicate name.
	existing, err := s.client.HGet(ctx, cronNamesKey, entry.Name).Result()
	if err != nil && !isRedisNil(err) {
		return fmt.Errorf("spool/redis: register cron check name: %w", err)
	}
	if existing != "" {
		return spool.ErrDuplicateCron
	}

	e := toCronEntity(entry)
	if setErr := s.setEntity(ctx, key, e); setErr != nil {
		return fmt.Errorf("spool/redis: register cron set: %w", setErr)
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, cronIDsKey, eID)
	pipe.HSet(ctx, cronNamesKey, entry.Name, eID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("spool/redis: register cron indexes: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	var e cronEntity
	if err := s.getEntity(ctx, cronKey(entryID.String()), &e); err != nil {
		if isRedisNil(err) {
			return nil, spool.ErrCronNotFound
		}
		return nil, fmt.Errorf("spool/redis: get cron: %w", err)
	}
	return fromCronEntity(&e)
}

// ListCrons returns all cron entries.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	ids, err := s.client.SMembers(ctx, cronIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("spool/redis: list crons: %w", err)
	}

	entries := make([]*cron.Entry, 0, len(ids))
	for _, eID := range ids {
		var e cronEntity
		if getErr := s.getEntity(ctx, cronKey(eID), &e); getErr != nil {
			continue
		}
		entry, convErr := fromCronEntity(&e)
		if convErr != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// AcquireCronLock attempts to acquire a distributed lock for a cron entry.
func (s *Store) AcquireCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	key := cronKey(entryID.String())
	wID := workerID.String()
	now := time.Now().UTC()
	until := now.Add(ttl)

	var e cronEntity
	if err := s.getEntity(ctx, key, &e); err != nil {
		if isRedisNil(err) {
			return false, spool.ErrCronNotFound
		}
		return false, fmt.Errorf("spool/redis: acquire cron lock get: %w", err)
	}

	// Check current lock state.
	if e.LockedBy != "" && e.LockedBy != wID {
		// Someone else holds the lock — check if expired.
		if e.LockedUntil != nil && e.LockedUntil.After(now) {
			return false, nil // lock still valid
		}
	}

	// Acquire or re-acquire.
	e.LockedBy = wID
	e.LockedUntil = &until
	e.UpdatedAt = now
	if err := s.setEntity(ctx, key, &e); err != nil {
		return false, fmt.Errorf("spool/redis: acquire cron lock set: %w", err)
	}
	return true, nil
}

// ReleaseCronLock releases the distributed lock for a cron entry.
func (s *Store) ReleaseCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID) error {
	key := cronKey(entryID.String())
	wID := workerID.String()

	var e cronEntity
	if err := s.getEntity(ctx, key, &e); err != nil {
		if isRedisNil(err) {
			return nil // entry gone, no-op
		}
		return fmt.Errorf("spool/redis: release cron lock get: %w", err)
	}

	if e.LockedBy != wID {
		return nil // not our lock, no-op
	}

	e.LockedBy = ""
	e.LockedUntil = nil
	e.UpdatedAt = time.Now().UTC()
	return s.setEntity(ctx, key, &e)
}

// UpdateCronLastRun records when a cron entry last fired.
func (s *Store) UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error {
	key := cronKey(entryID.String())
	var e cronEntity
	if err := s.getEntity(ctx, key, &e); err != nil {
		if isRedisNil(err) {
			return spool.ErrCronNotFound
		}
		return fmt.Errorf("spool/redis: update last run get: %w", err)
	}

	e.LastRunAt = &at
	e.UpdatedAt = time.Now().UTC()
	return s.setEntity(ctx, key, &e)
}

// UpdateCronEntry updates a cron entry.
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	key := cronKey(entry.ID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("spool/redis: update cron exists: %w", err)
	}
	if exists == 0 {
		return spool.ErrCronNotFound
	}

	e := toCronEntity(entry)
	e.UpdatedAt = time.Now().UTC()
	return s.setEntity(ctx, key, e)
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	eID := entryID.String()
	key := cronKey(eID)

	// Get name for name index cleanup.
	var e cronEntity
	if err := s.getEntity(ctx, key, &e); err != nil {
		if isRedisNil(err) {
			return spool.ErrCronNotFound
		}
		return fmt.Errorf("spool/redis: delete cron get: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, cronIDsKey, eID)
	if e.Name != "" {
		pipe.HDel(ctx, cronNamesKey, e.Name)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("spool/redis: delete cron: %w", err)
	}
	return nil
}
