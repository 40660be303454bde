package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRatePrefix = "genorch:rl:"

var incrWindowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RateLimiter is a fixed-window counter shared by every API replica.
type RateLimiter struct {
	rdb    redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

func NewRateLimiter(rdb redis.UniversalClient, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{rdb: rdb, prefix: defaultRatePrefix, limit: limit, window: window}
}

// Allow counts one hit for key and reports whether it is within the window's limit.
func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	n, err := incrWindowScript.Run(ctx, l.rdb, []string{l.prefix + key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n <= int64(l.limit), nil
}
