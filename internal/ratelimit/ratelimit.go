// Package ratelimit bounds concurrent outbound deliveries per channel
// using Redis inflight SETs. A SET (not a counter) keeps release
// idempotent — a crashed sender or double-release can never push the
// count negative.
package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultLimit applies to channels with no stored limit key.
const DefaultLimit = 10

func InflightSetKey(channel string) string {
	return fmt.Sprintf("schedcore:delivery:%s:inflight", channel)
}

func LimitKey(channel string) string {
	return fmt.Sprintf("schedcore:delivery:%s:limit", channel)
}

// Limiter gates delivery sends per channel (email, sms, push).
type Limiter struct {
	rc *redis.Client
}

func New(rc *redis.Client) *Limiter {
	return &Limiter{rc: rc}
}

// ChannelLimit returns the operator-set limit for channel, or
// DefaultLimit when none is stored.
func (l *Limiter) ChannelLimit(ctx context.Context, channel string) (int64, error) {
	v, err := l.rc.Get(ctx, LimitKey(channel)).Int64()
	if err == redis.Nil {
		return DefaultLimit, nil
	}
	return v, err
}

// TryAcquire claims one inflight slot for token on channel. Returns
// false when the channel is at capacity. There is a small window
// between the capacity check and the SADD; overshoot is bounded by
// the number of concurrent senders and is acceptable.
func (l *Limiter) TryAcquire(ctx context.Context, channel, token string) (bool, error) {
	limit, err := l.ChannelLimit(ctx, channel)
	if err != nil {
		return false, err
	}
	inflight, err := l.rc.SCard(ctx, InflightSetKey(channel)).Result()
	if err != nil {
		return false, err
	}
	if inflight >= limit {
		return false, nil
	}
	if err := l.rc.SAdd(ctx, InflightSetKey(channel), token).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Release drops token's inflight slot. Safe to call more than once;
// SREM on a missing member is a no-op.
func (l *Limiter) Release(ctx context.Context, channel, token string) error {
	return l.rc.SRem(ctx, InflightSetKey(channel), token).Err()
}
