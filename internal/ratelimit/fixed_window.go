// Package ratelimit throttles inbound webhook traffic per sender.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

const defaultPrefix = "lessonhub:inbound"

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	ResetAfter time.Duration
}

// ErrEmptyKey is returned for a blank limiter key.
var ErrEmptyKey = errors.New("rate limit key required")

// FixedWindowLimiter counts hits per key in a fixed window stored in Redis.
type FixedWindowLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewFixedWindowLimiter builds a limiter over an existing client.
func NewFixedWindowLimiter(client *redis.Client, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if client == nil {
		return nil, errors.New("rate limiter requires a redis client")
	}
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &FixedWindowLimiter{client: client, prefix: prefix, limit: limit, window: window}, nil
}

// Allow records a hit for key and reports whether it is within quota. A Redis
// failure returns a non-allowing Decision with the error; the caller decides
// whether to fail open.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	if l == nil {
		return Decision{Allowed: true}, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Decision{Limit: l.limit}, ErrEmptyKey
	}
	windowMs := l.window.Milliseconds()
	now := time.Now().UTC().UnixMilli()
	slot := now / windowMs
	reset := time.Duration((slot+1)*windowMs-now) * time.Millisecond
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64()
	if err != nil {
		return Decision{Limit: l.limit, ResetAfter: reset}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return Decision{
		Allowed:    count <= int64(l.limit),
		Count:      count,
		Limit:      l.limit,
		ResetAfter: reset,
	}, nil
}
