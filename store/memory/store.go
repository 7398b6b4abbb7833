package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oxlane/spool"
	"github.com/oxlane/spool/cluster"
	"github.com/oxlane/spool/cron"
	"github.com/oxlane/spool/dlq"
	"github.com/oxlane/spool/id"
	"github.com/oxlane/spool/job"
	"github.com/oxlane/spool/ledger"
	"github.com/oxlane/spool/ratelimit"
	"github.com/oxlane/spool/upload"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store           = (*Store)(nil)
	_ dlq.Store           = (*Store)(nil)
	_ cron.Store          = (*Store)(nil)
	_ cluster.Store       = (*Store)(nil)
	_ upload.SessionStore = (*Store)(nil)
	_ ledger.Store        = (*Store)(nil)
	_ ratelimit.Store     = (*Store)(nil)
)

// rateWindow is one fixed-window counter with its expiry.
type rateWindow struct {
	count    int64
	expireAt time.Time
}

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	jobs     map[string]*job.Job
	dlqs     map[string]*dlq.Entry
	crons    map[string]*cron.Entry
	workers  map[string]*cluster.Worker
	sessions map[string]*upload.Session
	usage    map[string]*ledger.UsagePeriod // key: "tenantID|period"
	windows  map[string]*rateWindow         // key: "key|windowStart"

	// leader tracks the current cluster leader worker ID string.
	leader      string
	leaderUntil time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:     make(map[string]*job.Job),
		dlqs:     make(map[string]*dlq.Entry),
		crons:    make(map[string]*cron.Entry),
		workers:  make(map[string]*cluster.Worker),
		sessions: make(map[string]*upload.Session),
		usage:    make(map[string]*ledger.UsagePeriod),
		windows:  make(map[string]*rateWindow),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob persists a new job in pending state.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return spool.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// DequeueJobs atomically claims up to limit due jobs from the given
// queues, sets them to running, and returns them.
func (m *Store) DequeueJobs(_ context.Context, queues []string, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queueSet := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		queueSet[q] = struct{}{}
	}

	now := time.Now().UTC()

	// Collect candidates.
	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State != job.StatePending && j.State != job.StateRetrying {
			continue
		}
		if !j.RunAt.IsZero() && j.RunAt.After(now) {
			continue
		}
		if len(queueSet) > 0 {
			if _, ok := queueSet[j.Queue]; !ok {
				continue
			}
		}
		candidates = append(candidates, j)
	}

	// Sort: priority DESC, RunAt ASC.
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		return candidates[i].RunAt.Before(candidates[k].RunAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		j.State = job.StateRunning
		n := now
		j.StartedAt = &n
		// Return a copy so callers can mutate without racing with the store.
		cp := *j
		result[i] = &cp
	}

	return result, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, spool.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// UpdateJob persists changes to an existing job. Jobs in a terminal
// state are immutable; updating one returns spool.ErrJobTerminal.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	existing, ok := m.jobs[key]
	if !ok {
		return spool.ErrJobNotFound
	}
	if existing.State.Terminal() {
		return spool.ErrJobTerminal
	}
	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return spool.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ListJobsByState returns jobs matching the given state.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	// Sort by CreatedAt for deterministic output.
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	// Apply offset / limit.
	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (m *Store) HeartbeatJob(_ context.Context, jobID id.JobID, _ id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return spool.ErrJobNotFound
	}
	now := time.Now().UTC()
	j.HeartbeatAt = &now
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// the given threshold.
func (m *Store) ReapStaleJobs(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var stale []*job.Job
	for _, j := range m.jobs {
		if j.State != job.StateRunning {
			continue
		}
		if j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			cp := *j
			stale = append(stale, &cp)
		}
	}
	return stale, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds a failed job entry to the dead letter queue.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dlqs[entry.ID.String()] = entry
	return nil
}

// ListDLQ returns DLQ entries matching the given options.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		if opts.TenantID != "" && e.TenantID != opts.TenantID {
			continue
		}
		result = append(result, e)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.Before(result[k].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, spool.ErrDLQNotFound
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return spool.ErrDLQNotFound
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.dlqs)), nil
}

// ──────────────────────────────────────────────────
// Cron Store
// ──────────────────────────────────────────────────

// RegisterCron persists a new cron entry. Returns an error if the name
// already exists.
func (m *Store) RegisterCron(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check for duplicate name.
	for _, e := range m.crons {
		if e.Name == entry.Name {
			return spool.ErrDuplicateCron
		}
	}

	m.crons[entry.ID.String()] = entry
	return nil
}

// GetCron retrieves a cron entry by ID.
func (m *Store) GetCron(_ context.Context, entryID id.CronID) (*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return nil, spool.ErrCronNotFound
	}
	return e, nil
}

// ListCrons returns all cron entries.
func (m *Store) ListCrons(_ context.Context) ([]*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cron.Entry, 0, len(m.crons))
	for _, e := range m.crons {
		result = append(result, e)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	return result, nil
}

// AcquireCronLock attempts to acquire a distributed lock for a cron entry.
func (m *Store) AcquireCronLock(_ context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return false, spool.ErrCronNotFound
	}

	now := time.Now().UTC()

	// If already locked by someone else and lock hasn't expired, fail.
	if e.LockedBy != "" && e.LockedUntil != nil && e.LockedUntil.After(now) {
		if e.LockedBy != workerID.String() {
			return false, nil
		}
	}

	e.LockedBy = workerID.String()
	until := now.Add(ttl)
	e.LockedUntil = &until
	return true, nil
}

// ReleaseCronLock releases the distributed lock for a cron entry.
func (m *Store) ReleaseCronLock(_ context.Context, entryID id.CronID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return spool.ErrCronNotFound
	}

	if e.LockedBy != workerID.String() {
		return nil // not holding the lock; no-op
	}

	e.LockedBy = ""
	e.LockedUntil = nil
	return nil
}

// UpdateCronLastRun records when a cron entry last fired.
func (m *Store) UpdateCronLastRun(_ context.Context, entryID id.CronID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return spool.ErrCronNotFound
	}
	e.LastRunAt = &at
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateCronEntry updates a cron entry (Enabled, NextRunAt, etc.).
func (m *Store) UpdateCronEntry(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entry.ID.String()
	if _, ok := m.crons[key]; !ok {
		return spool.ErrCronNotFound
	}
	entry.UpdatedAt = time.Now().UTC()
	m.crons[key] = entry
	return nil
}

// DeleteCron removes a cron entry by ID.
func (m *Store) DeleteCron(_ context.Context, entryID id.CronID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryID.String()
	if _, ok := m.crons[key]; !ok {
		return spool.ErrCronNotFound
	}
	delete(m.crons, key)
	return nil
}

// ──────────────────────────────────────────────────
// Cluster Store
// ──────────────────────────────────────────────────

// RegisterWorker adds a new worker to the cluster registry.
func (m *Store) RegisterWorker(_ context.Context, w *cluster.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workers[w.ID.String()] = w
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (m *Store) DeregisterWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := workerID.String()
	if _, ok := m.workers[key]; !ok {
		return spool.ErrWorkerNotFound
	}
	delete(m.workers, key)
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (m *Store) HeartbeatWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID.String()]
	if !ok {
		return spool.ErrWorkerNotFound
	}
	w.LastSeen = time.Now().UTC()
	return nil
}

// ListWorkers returns all registered workers.
func (m *Store) ListWorkers(_ context.Context) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cluster.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		result = append(result, w)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	return result, nil
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older than
// the given threshold.
func (m *Store) ReapDeadWorkers(_ context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var dead []*cluster.Worker
	for _, w := range m.workers {
		if w.LastSeen.Before(cutoff) {
			dead = append(dead, w)
		}
	}
	return dead, nil
}

// AcquireLeadership attempts to become the cluster leader.
func (m *Store) AcquireLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	wKey := workerID.String()

	// If there's already a leader whose TTL hasn't expired and it's not us, fail.
	if m.leader != "" && m.leaderUntil.After(now) && m.leader != wKey {
		return false, nil
	}

	// Acquire (or re-acquire) leadership.
	m.leader = wKey
	m.leaderUntil = now.Add(ttl)

	// Update worker record.
	if w, ok := m.workers[wKey]; ok {
		w.IsLeader = true
		until := m.leaderUntil
		w.LeaderUntil = &until
	}

	return true, nil
}

// RenewLeadership extends the leader's hold.
func (m *Store) RenewLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wKey := workerID.String()
	if m.leader != wKey {
		return false, nil
	}

	m.leaderUntil = time.Now().UTC().Add(ttl)

	if w, ok := m.workers[wKey]; ok {
		until := m.leaderUntil
		w.LeaderUntil = &until
	}

	return true, nil
}

// GetLeader returns the current cluster leader, or nil if there is no leader.
func (m *Store) GetLeader(_ context.Context) (*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.leader == "" || m.leaderUntil.Before(time.Now().UTC()) {
		return nil, nil
	}

	w, ok := m.workers[m.leader]
	if !ok {
		return nil, nil
	}
	return w, nil
}

// ──────────────────────────────────────────────────
// Upload Session Store
// ──────────────────────────────────────────────────

// EnsureSession returns the existing session for s.ID, creating it from s
// if absent.
func (m *Store) EnsureSession(_ context.Context, s *upload.Session) (*upload.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := s.ID.String()
	if existing, ok := m.sessions[key]; ok {
		cp := copySession(existing)
		return cp, nil
	}

	cp := copySession(s)
	if cp.Received == nil {
		cp.Received = make(map[int]bool)
	}
	if cp.State == "" {
		cp.State = upload.StateCollecting
	}
	m.sessions[key] = cp
	return copySession(cp), nil
}

// GetSession retrieves a session by upload ID.
func (m *Store) GetSession(_ context.Context, uploadID id.UploadID) (*upload.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[uploadID.String()]
	if !ok {
		return nil, spool.ErrSessionNotFound
	}
	return copySession(s), nil
}

// AddChunk records a received chunk and decides novelty and completion
// atomically. Each claim is observed by exactly one caller.
func (m *Store) AddChunk(_ context.Context, uploadID id.UploadID, chunkNo int) (int, bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[uploadID.String()]
	if !ok {
		return 0, false, false, spool.ErrSessionNotFound
	}

	novel := !s.Received[chunkNo]
	s.Received[chunkNo] = true
	received := len(s.Received)
	s.UpdatedAt = time.Now().UTC()

	// The completion claim: only the transition collecting→complete
	// reports completed=true.
	if received == s.TotalChunks && s.State == upload.StateCollecting {
		s.State = upload.StateComplete
		return received, novel, true, nil
	}

	return received, novel, false, nil
}

// DeleteSession removes a session by upload ID.
func (m *Store) DeleteSession(_ context.Context, uploadID id.UploadID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := uploadID.String()
	if _, ok := m.sessions[key]; !ok {
		return spool.ErrSessionNotFound
	}
	delete(m.sessions, key)
	return nil
}

// ListExpiredSessions returns sessions created before the cutoff.
func (m *Store) ListExpiredSessions(_ context.Context, before time.Time) ([]*upload.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var expired []*upload.Session
	for _, s := range m.sessions {
		if s.CreatedAt.Before(before) {
			expired = append(expired, copySession(s))
		}
	}

	sort.Slice(expired, func(i, k int) bool {
		return expired[i].CreatedAt.Before(expired[k].CreatedAt)
	})

	return expired, nil
}

// copySession deep-copies a session, including the Received map.
func copySession(s *upload.Session) *upload.Session {
	cp := *s
	cp.Received = make(map[int]bool, len(s.Received))
	for k, v := range s.Received {
		cp.Received[k] = v
	}
	return &cp
}

// ──────────────────────────────────────────────────
// Ledger Store
// ──────────────────────────────────────────────────

// usageKey builds a composite map key for a usage row.
func usageKey(tenantID, period string) string {
	return tenantID + "|" + period
}

// AddUsage atomically adds delta to the given field, creating the row on
// first touch and clamping the result at zero.
func (m *Store) AddUsage(_ context.Context, tenantID, period string, field ledger.Field, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := usageKey(tenantID, period)
	row, ok := m.usage[key]
	if !ok {
		row = &ledger.UsagePeriod{
			Entity:    spool.NewEntity(),
			TenantID:  tenantID,
			PeriodKey: period,
		}
		m.usage[key] = row
	}

	total := row.Get(field) + delta
	if total < 0 {
		total = 0
	}
	row.Set(field, total)
	row.UpdatedAt = time.Now().UTC()
	return total, nil
}

// GetUsage returns the usage row for (tenant, period).
func (m *Store) GetUsage(_ context.Context, tenantID, period string) (*ledger.UsagePeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.usage[usageKey(tenantID, period)]
	if !ok {
		return nil, spool.ErrUsageNotFound
	}
	cp := *row
	return &cp, nil
}

// ResetPeriod zeroes every counter for all rows in the given period.
// Rows are kept, not deleted.
func (m *Store) ResetPeriod(_ context.Context, period string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	now := time.Now().UTC()
	for _, row := range m.usage {
		if row.PeriodKey != period {
			continue
		}
		row.EmailsSent = 0
		row.EmailsReceived = 0
		row.StorageBytes = 0
		row.UpdatedAt = now
		count++
	}
	return count, nil
}

// ListPeriods returns all usage rows for a tenant, newest period first.
func (m *Store) ListPeriods(_ context.Context, tenantID string) ([]*ledger.UsagePeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*ledger.UsagePeriod
	for _, row := range m.usage {
		if row.TenantID != tenantID {
			continue
		}
		cp := *row
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].PeriodKey > result[k].PeriodKey
	})

	return result, nil
}

// ──────────────────────────────────────────────────
// Rate Limit Store
// ──────────────────────────────────────────────────

// HitWindow increments the fixed-window counter for key iff the current
// count is below limit. Expired windows are purged lazily.
func (m *Store) HitWindow(_ context.Context, key string, windowStart time.Time, limit int64, ttl time.Duration) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()

	wKey := key + "|" + windowStart.UTC().Format(time.RFC3339)
	w, ok := m.windows[wKey]
	if ok && now.After(w.expireAt) {
		delete(m.windows, wKey)
		ok = false
	}
	if !ok {
		w = &rateWindow{expireAt: windowStart.Add(ttl)}
		m.windows[wKey] = w
	}

	if w.count >= limit {
		return w.count, false, nil
	}
	w.count++
	return w.count, true, nil
}
