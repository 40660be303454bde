// Package redisstore holds the Redis-backed coordination primitives shared by the API and
// worker processes: a job lock, a provider event log and a fixed-window rate limiter.
package redisstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultLockPrefix = "genorch:lock:job:"

var errLockArgs = errors.New("redisstore: lock key and token are required")

// Locker is a single-holder lock: SET NX PX to acquire, Lua compare-and-delete to release.
type Locker struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewLocker(rdb redis.UniversalClient, prefix string) *Locker {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultLockPrefix
	}
	return &Locker{rdb: rdb, prefix: prefix}
}

// Key returns the lock key guarding jobID.
func (l *Locker) Key(jobID string) string {
	return l.prefix + strings.TrimSpace(jobID)
}

// Token returns a random holder token.
func Token() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

func (l *Locker) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if key == "" || token == "" {
		return false, errLockArgs
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return l.rdb.SetNX(ctx, key, token, ttl).Result()
}

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
  return 0
end
`)

// Refresh extends the lock if token still holds it.
func (l *Locker) Refresh(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if key == "" || token == "" {
		return false, errLockArgs
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	n, err := refreshScript.Run(ctx, l.rdb, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

// Release deletes the lock only if token still holds it.
func (l *Locker) Release(ctx context.Context, key, token string) (bool, error) {
	if key == "" || token == "" {
		return false, errLockArgs
	}
	n, err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// TryLock acquires the job lock and returns a release func. ok is false when another
// holder owns it.
func (l *Locker) TryLock(ctx context.Context, jobID string, ttl time.Duration) (release func(), ok bool, err error) {
	token, err := Token()
	if err != nil {
		return nil, false, err
	}
	key := l.Key(jobID)
	ok, err = l.Acquire(ctx, key, token, ttl)
	if err != nil || !ok {
		return nil, ok, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_, _ = l.Release(ctx, key, token)
	}, true, nil
}
