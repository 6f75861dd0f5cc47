package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter shares a per-webhook sliding window across worker
// processes. Each request is a sorted set member scored by its timestamp;
// the window check and insert run in one Lua script. When Redis is
// unreachable it falls back to a LocalRateLimiter.
type RedisRateLimiter struct {
	client   *redis.Client
	prefix   string
	window   time.Duration
	fallback *LocalRateLimiter
	logger   *slog.Logger
}

type RedisRateLimiterConfig struct {
	Prefix string        // Key prefix (default: "hookline:ratelimit:")
	Window time.Duration // Sliding window size (default: 1 second)
}

func DefaultRedisRateLimiterConfig() RedisRateLimiterConfig {
	return RedisRateLimiterConfig{
		Prefix: "hookline:ratelimit:",
		Window: time.Second,
	}
}

func NewRedisRateLimiter(client *redis.Client, config RedisRateLimiterConfig, logger *slog.Logger) *RedisRateLimiter {
	if config.Window == 0 {
		config.Window = time.Second
	}
	if config.Prefix == "" {
		config.Prefix = "hookline:ratelimit:"
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RedisRateLimiter{
		client:   client,
		prefix:   config.Prefix,
		window:   config.Window,
		fallback: NewLocalRateLimiter(DefaultRateLimiterConfig()),
		logger:   logger,
	}
}

// rateLimitScript returns 1 if allowed, 0 if rate limited.
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('PEXPIRE', key, window)
    return 1
else
    return 0
end
`)

func (r *RedisRateLimiter) Allow(ctx context.Context, webhookID string, limit int) (bool, error) {
	key := r.prefix + webhookID
	now := time.Now()
	member := fmt.Sprintf("%d:%d", now.UnixMilli(), now.UnixNano()%1000000)

	result, err := rateLimitScript.Run(ctx, r.client, []string{key}, now.UnixMilli(), r.window.Milliseconds(), limit, member).Int()
	if err != nil {
		r.logger.Warn("redis rate limiter failed, using fallback",
			"error", err,
			"webhook_id", webhookID,
		)
		return r.fallback.Allow(ctx, webhookID, limit)
	}

	return result == 1, nil
}
