// Package ratelimit implements C4: an atomic, distributed sliding-window
// rate limiter over Redis sorted sets. The algorithm and Lua script are
// ported exactly from original_source/src/rate_limit/sliding_window.rs —
// the teacher's own auth/internal/auth/ratelimit.go (wisbric-nightowl) uses
// a naive INCR+EXPIRE fixed window, which does not satisfy the spec's
// atomic-admission invariant, and is not reused here.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/agent-iam/iam/internal/core"
	"github.com/agent-iam/iam/internal/errs"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript implements:
//  1. drop members older than the window
//  2. count what remains
//  3. if under the limit, admit (unique jittered score) and refresh TTL
//  4. otherwise report the oldest member's score so the caller can compute
//     a reset time
//
// Returns {allowed(0/1), current, remaining, reset_time}.
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local window_seconds = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local current = redis.call('ZCARD', key)

if current < limit then
    local unique_score = now + (redis.call('TIME')[2] / 1000000)
    redis.call('ZADD', key, unique_score, unique_score)
    redis.call('EXPIRE', key, window_seconds + 60)
    current = current + 1
    return {1, current, limit - current, now + window_seconds}
else
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local reset_time = window_start + window_seconds
    if #oldest > 0 then
        reset_time = math.ceil(tonumber(oldest[2])) + window_seconds
    end
    return {0, current, 0, reset_time}
end
`

// Limiter implements core.RateLimiter over a shared Redis connection.
type Limiter struct {
	rdb    redis.UniversalClient
	script *redis.Script
}

// NewLimiter builds a Limiter over rdb.
func NewLimiter(rdb redis.UniversalClient) *Limiter {
	return &Limiter{rdb: rdb, script: redis.NewScript(slidingWindowScript)}
}

// CheckAndIncrement runs the sliding-window admission script atomically:
// without it, two concurrent admits could both observe current < limit and
// both succeed, violating the limit.
func (l *Limiter) CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) (core.RateLimitResult, error) {
	now := time.Now().UTC()
	nowSecs := float64(now.Unix())
	windowSecs := int(window.Seconds())
	windowStart := nowSecs - float64(windowSecs)

	redisKey := fmt.Sprintf("ratelimit:%s", key)
	res, err := l.script.Run(ctx, l.rdb, []string{redisKey}, nowSecs, windowStart, limit, windowSecs).Result()
	if err != nil {
		return core.RateLimitResult{}, errs.Wrap(errs.KvError, "rate limiter script", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 4 {
		return core.RateLimitResult{}, errs.New(errs.KvError, "unexpected rate limiter script result shape")
	}

	allowed := toInt64(vals[0]) == 1
	current := toInt64(vals[1])
	remaining := toInt64(vals[2])
	resetUnix := toInt64(vals[3])

	return core.RateLimitResult{
		Allowed:   allowed,
		Current:   current,
		Remaining: remaining,
		ResetAt:   time.Unix(resetUnix, 0).UTC(),
	}, nil
}

// CurrentCount is a read-only observation; it still prunes expired members.
func (l *Limiter) CurrentCount(ctx context.Context, key string, window time.Duration) (int64, error) {
	redisKey := fmt.Sprintf("ratelimit:%s", key)
	windowStart := float64(time.Now().UTC().Unix() - int64(window.Seconds()))

	if err := l.rdb.ZRemRangeByScore(ctx, redisKey, "-inf", fmt.Sprintf("%f", windowStart)).Err(); err != nil {
		return 0, errs.Wrap(errs.KvError, "prune rate limiter window", err)
	}
	count, err := l.rdb.ZCard(ctx, redisKey).Result()
	if err != nil {
		return 0, errs.Wrap(errs.KvError, "count rate limiter window", err)
	}
	return count, nil
}

// Reset deletes the limiter key outright.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	redisKey := fmt.Sprintf("ratelimit:%s", key)
	if err := l.rdb.Del(ctx, redisKey).Err(); err != nil {
		return errs.Wrap(errs.KvError, "reset rate limiter key", err)
	}
	return nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// ClassKey namespaces a limiter key by limit class, avoiding collisions
// between e.g. the "auth" class and the "default" class for the same
// underlying identity/IP.
func ClassKey(class, subject string) string {
	return fmt.Sprintf("%s:%s", class, subject)
}
