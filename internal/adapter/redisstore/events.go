package redisstore

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"genorch/internal/domain"
)

const (
	defaultEventPrefix = "genorch:evt:"
	defaultEventTTL    = 7 * 24 * time.Hour
)

// EventLog implements domain.EventLog with one SETNX key per fingerprint. Keys expire after
// ttl, which must exceed the longest provider redelivery window.
type EventLog struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewEventLog(rdb redis.UniversalClient, ttl time.Duration) *EventLog {
	if ttl <= 0 {
		ttl = defaultEventTTL
	}
	return &EventLog{rdb: rdb, prefix: defaultEventPrefix, ttl: ttl}
}

func (l *EventLog) key(provider, providerJobID, fingerprint string) string {
	return l.prefix + strings.Join([]string{provider, providerJobID, fingerprint}, ":")
}

func (l *EventLog) Record(ctx context.Context, provider, providerJobID, fingerprint string) (bool, error) {
	return l.rdb.SetNX(ctx, l.key(provider, providerJobID, fingerprint), time.Now().UTC().Unix(), l.ttl).Result()
}

func (l *EventLog) Forget(ctx context.Context, provider, providerJobID, fingerprint string) error {
	return l.rdb.Del(ctx, l.key(provider, providerJobID, fingerprint)).Err()
}

var _ domain.EventLog = (*EventLog)(nil)
