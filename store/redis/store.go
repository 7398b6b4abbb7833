// Package redis implements store.Store using Redis for high-throughput
// ephemeral workloads. Jobs use Sorted Sets as priority queues, rate-limit
// windows and upload completion use Lua scripts for atomicity, and all
// entities are stored as Redis Hashes or JSON strings.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/oxlane/spool/cluster"
	"github.com/oxlane/spool/cron"
	"github.com/oxlane/spool/dlq"
	"github.com/oxlane/spool/job"
	"github.com/oxlane/spool/ledger"
	"github.com/oxlane/spool/ratelimit"
	"github.com/oxlane/spool/upload"
)

// Compile-time interface checks.
var (
	_ job.Store           = (*Store)(nil)
	_ dlq.Store           = (*Store)(nil)
	_ cron.Store          = (*Store)(nil)
	_ cluster.Store       = (*Store)(nil)
	_ upload.SessionStore = (*Store)(nil)
	_ ledger.Store        = (*Store)(nil)
	_ ratelimit.Store     = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client goredis.Cmdable
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op — the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// ── entity helpers ──

// setEntity stores v as a JSON string at key.
func (s *Store) setEntity(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("spool/redis: marshal entity: %w", err)
	}
	return s.client.Set(ctx, key, b, 0).Err()
}

// getEntity loads the JSON string at key into v. Returns goredis.Nil if
// the key does not exist.
func (s *Store) getEntity(ctx context.Context, key string, v any) error {
	b, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func isRedisNil(err error) bool { return errors.Is(err, goredis.Nil) }
