package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// hitWindowScript is a compare-and-increment on a fixed-window counter:
// the counter only moves when the hit is admitted, so rejected requests
// never inflate the count. The TTL is set when the window is first
// touched.
//
// KEYS[1] = window counter key
// ARGV[1] = limit, ARGV[2] = ttl in milliseconds
// Returns {count, allowed(0|1)}.
var hitWindowScript = goredis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
if count >= tonumber(ARGV[1]) then
	return {count, 0}
end
count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {count, 1}
`)

// HitWindow increments the counter for key at the given window start iff
// the current count is below limit.
func (s *Store) HitWindow(ctx context.Context, key string, windowStart time.Time, limit int64, ttl time.Duration) (int64, bool, error) {
	res, err := hitWindowScript.Run(ctx, s.client,
		[]string{windowKey(key, windowStart.UTC().Unix())},
		limit, ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("spool/redis: hit window: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("spool/redis: hit window: unexpected result %v", res)
	}
	return res[0], res[1] == 1, nil
}
