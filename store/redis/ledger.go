package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/oxlane/spool"
	"github.com/oxlane/spool/ledger"
)

// addUsageScript increments a usage counter inside the row Hash and
// clamps the result at zero, all in one round trip. It also stamps the
// row metadata so a row created by the increment is fully formed.
//
// KEYS[1] = usage Hash
// ARGV[1] = field, ARGV[2] = delta, ARGV[3] = tenant id,
// ARGV[4] = period key, ARGV[5] = now (RFC 3339)
// Returns the new total.
var addUsageScript = goredis.NewScript(`
local total = redis.call('HINCRBY', KEYS[1], ARGV[1], ARGV[2])
if total < 0 then
	total = 0
	redis.call('HSET', KEYS[1], ARGV[1], 0)
end
redis.call('HSETNX', KEYS[1], 'tenant_id', ARGV[3])
redis.call('HSETNX', KEYS[1], 'period_key', ARGV[4])
redis.call('HSETNX', KEYS[1], 'created_at', ARGV[5])
redis.call('HSET', KEYS[1], 'updated_at', ARGV[5])
return total
`)

// AddUsage atomically adds delta to the given field, creating the row
// if absent and clamping the result at zero.
func (s *Store) AddUsage(ctx context.Context, tenantID, period string, field ledger.Field, delta int64) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	total, err := addUsageScript.Run(ctx, s.client,
		[]string{usageKey(tenantID, period)},
		string(field), delta, tenantID, period, now,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("spool/redis: add usage: %w", err)
	}
	if err := s.client.SAdd(ctx, usageIDsKey, tenantID+"|"+period).Err(); err != nil {
		return 0, fmt.Errorf("spool/redis: add usage index: %w", err)
	}
	return total, nil
}

// GetUsage returns the usage row for (tenant, period).
func (s *Store) GetUsage(ctx context.Context, tenantID, period string) (*ledger.UsagePeriod, error) {
	vals, err := s.client.HGetAll(ctx, usageKey(tenantID, period)).Result()
	if err != nil {
		return nil, fmt.Errorf("spool/redis: get usage: %w", err)
	}
	if len(vals) == 0 {
		return nil, spool.ErrUsageNotFound
	}
	return mapToUsage(vals), nil
}

// ResetPeriod zeroes every counter for all rows in the given period.
func (s *Store) ResetPeriod(ctx context.Context, period string) (int64, error) {
	members, err := s.client.SMembers(ctx, usageIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("spool/redis: reset period: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	var touched int64
	for _, m := range members {
		tenantID, memberPeriod, ok := strings.Cut(m, "|")
		if !ok || memberPeriod != period {
			continue
		}
		err := s.client.HSet(ctx, usageKey(tenantID, period),
			string(ledger.FieldEmailsSent), "0",
			string(ledger.FieldEmailsReceived), "0",
			string(ledger.FieldStorageBytes), "0",
			"updated_at", now,
		).Err()
		if err != nil {
			return touched, fmt.Errorf("spool/redis: reset period hset: %w", err)
		}
		touched++
	}
	return touched, nil
}

// ListPeriods returns all usage rows for a tenant, newest period first.
func (s *Store) ListPeriods(ctx context.Context, tenantID string) ([]*ledger.UsagePeriod, error) {
	members, err := s.client.SMembers(ctx, usageIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("spool/redis: list periods: %w", err)
	}

	var rows []*ledger.UsagePeriod
	for _, m := range members {
		memberTenant, period, ok := strings.Cut(m, "|")
		if !ok || memberTenant != tenantID {
			continue
		}
		vals, getErr := s.client.HGetAll(ctx, usageKey(tenantID, period)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		rows = append(rows, mapToUsage(vals))
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].PeriodKey > rows[j].PeriodKey
	})
	return rows, nil
}

func mapToUsage(m map[string]string) *ledger.UsagePeriod {
	u := &ledger.UsagePeriod{
		TenantID:  m["tenant_id"],
		PeriodKey: m["period_key"],
	}
	u.EmailsSent, _ = strconv.ParseInt(m[string(ledger.FieldEmailsSent)], 10, 64)         //nolint:errcheck // best-effort parse from trusted Redis data
	u.EmailsReceived, _ = strconv.ParseInt(m[string(ledger.FieldEmailsReceived)], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
	u.StorageBytes, _ = strconv.ParseInt(m[string(ledger.FieldStorageBytes)], 10, 64)     //nolint:errcheck // best-effort parse from trusted Redis data
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, m["created_at"])                        //nolint:errcheck // best-effort parse from trusted Redis data
	u.UpdatedAt, _ = time.Parse(time.RFC3339Nano, m["updated_at"])                        //nolint:errcheck // best-effort parse from trusted Redis data
	return u
}
