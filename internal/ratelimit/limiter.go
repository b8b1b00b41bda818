// Package ratelimit provides a Redis-backed sliding window limiter shared by
// every courier process sending to the same rooms.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stiffinWanjohi/courier/internal/logging"
)

var log = logging.Component("ratelimit")

const keyPrefix = "courier:ratelimit:"

var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

	local count = redis.call('ZCARD', key)
	if count < limit then
		redis.call('ZADD', key, now, now .. '-' .. math.random())
		redis.call('EXPIRE', key, math.ceil(window / 1000) + 1)
		return 1
	end

	return 0
`)

// Limiter allows at most limit events per key within a sliding window.
type Limiter struct {
	client *redis.Client
	window time.Duration
	now    func() time.Time
}

// NewLimiter creates a limiter with a one second window.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{
		client: client,
		window: time.Second,
		now:    time.Now,
	}
}

// WithWindow returns a copy of the limiter using the given window.
func (l *Limiter) WithWindow(window time.Duration) *Limiter {
	clone := *l
	if window > 0 {
		clone.window = window
	}
	return &clone
}

// Window returns the length of the sliding window.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Allow reports whether another event for key fits under limit.
// A limit of zero or less means unlimited. Redis errors fail open.
func (l *Limiter) Allow(ctx context.Context, key string, limit int) bool {
	if limit <= 0 {
		return true
	}

	result, err := slidingWindowScript.Run(ctx, l.client,
		[]string{keyPrefix + key},
		l.now().UnixMilli(),
		l.window.Milliseconds(),
		limit,
	).Int()
	if err != nil {
		log.Warn("rate limit check failed, allowing", "key", key, "error", err)
		return true
	}
	return result == 1
}

// current returns the number of events recorded for key in the current window.
func (l *Limiter) current(ctx context.Context, key string) (int64, error) {
	cutoff := l.now().UnixMilli() - l.window.Milliseconds()

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, keyPrefix+key, "-inf", strconv.FormatInt(cutoff, 10))
	count := pipe.ZCard(ctx, keyPrefix+key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return count.Val(), nil
}
