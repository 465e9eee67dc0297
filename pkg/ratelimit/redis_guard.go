package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
)

// DefaultRedisKey is the sorted set holding admissions when no key is configured.
const DefaultRedisKey = "ac:ratelimit:window"

// slidingLogScript implements the sliding window on a sorted set scored by
// the Redis server clock in microseconds. It returns 0 when the caller was
// admitted, or the number of microseconds until the oldest admission leaves
// the window.
var slidingLogScript = redis.NewScript(`
local key    = KEYS[1]
local limit  = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local member = ARGV[3]

local t   = redis.call('TIME')
local now = tonumber(t[1]) * 1000000 + tonumber(t[2])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

if redis.call('ZCARD', key) < limit then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, math.floor(window / 1000) + 1000)
	return 0
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local wait = tonumber(oldest[2]) + window - now
if wait < 1 then
	wait = 1
end
return wait
`)

// RedisGuard enforces the same sliding-window law as Guard, but keeps the
// window in Redis so that several processes sharing one API token also
// share its quota. Timestamps come from the Redis server clock.
type RedisGuard struct {
	redis  *redis.Client
	key    string
	limit  int
	window time.Duration
	logger zerolog.Logger
}

// NewRedisGuard creates a guard backed by the given Redis client.
func NewRedisGuard(redisClient *redis.Client, key string, limit int, window time.Duration, logger zerolog.Logger) (*RedisGuard, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be > 0 (got %d)", ErrInvalidLimit, limit)
	}
	if window < 0 {
		return nil, fmt.Errorf("%w: window must be >= 0 (got %s)", ErrInvalidLimit, window)
	}
	if key == "" {
		key = DefaultRedisKey
	}

	return &RedisGuard{
		redis:  redisClient,
		key:    key,
		limit:  limit,
		window: window,
		logger: logger,
	}, nil
}

// Acquire blocks until the shared window has room for one more admission.
// Redis errors are returned as is; the caller decides whether to retry.
func (g *RedisGuard) Acquire(ctx context.Context) error {
	start := time.Now()
	member := xid.New().String()

	for {
		if err := ctx.Err(); err != nil {
			admissionsCancelledTotal.WithLabelValues("redis").Inc()
			return err
		}

		waitMicros, err := slidingLogScript.Run(ctx, g.redis, []string{g.key},
			g.limit, g.window.Microseconds(), member).Int64()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				admissionsCancelledTotal.WithLabelValues("redis").Inc()
				return ctxErr
			}
			return fmt.Errorf("redis sliding window: %w", err)
		}

		if waitMicros == 0 {
			admissionsTotal.WithLabelValues("redis").Inc()
			admissionWaitSeconds.WithLabelValues("redis").Observe(time.Since(start).Seconds())
			return nil
		}

		wait := time.Duration(waitMicros) * time.Microsecond
		g.logger.Debug().
			Str("key", g.key).
			Dur("wait", wait).
			Msg("Shared rate limit window full, waiting for admission")

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			admissionsCancelledTotal.WithLabelValues("redis").Inc()
			return ctx.Err()
		}
	}
}

// Reset drops all recorded admissions for this guard's key.
func (g *RedisGuard) Reset(ctx context.Context) error {
	if err := g.redis.Del(ctx, g.key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
