package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRateLimitKeyPrefix namespaces rate limit counters in Redis.
const DefaultRateLimitKeyPrefix = "ratelimit:"

// RedisRateLimitStore implements RateLimitStore with a fixed window counter
// in Redis (INCR plus PEXPIRE on the first hit), so limits hold across
// replicas. Redis errors fail open.
type RedisRateLimitStore struct {
	client  *redis.Client
	prefix  string
	metrics *Metrics
}

// NewRedisRateLimitStore creates a Redis backed rate limit store.
func NewRedisRateLimitStore(client *redis.Client) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client, prefix: DefaultRateLimitKeyPrefix}
}

// WithMetrics counts fail-open events on metrics.
func (s *RedisRateLimitStore) WithMetrics(metrics *Metrics) *RedisRateLimitStore {
	s.metrics = metrics
	return s
}

// Allow implements RateLimitStore.
func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int, int) {
	k := s.prefix + key

	count, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return s.failOpen(ctx, config, err)
	}

	ttl, err := s.client.PTTL(ctx, k).Result()
	if err != nil {
		return s.failOpen(ctx, config, err)
	}
	// A missing expiry means this hit opened the window, or a previous
	// PEXPIRE never landed.
	if count == 1 || ttl < 0 {
		if err := s.client.PExpire(ctx, k, config.WindowDuration).Err(); err != nil {
			return s.failOpen(ctx, config, err)
		}
		ttl = config.WindowDuration
	}

	limit := int64(config.RequestsPerWindow)
	if count <= limit {
		return true, int(limit - count), 0
	}

	retryAfter := int((ttl + time.Second - 1) / time.Second)
	if retryAfter <= 0 {
		retryAfter = 1
	}
	return false, 0, retryAfter
}

func (s *RedisRateLimitStore) failOpen(ctx context.Context, config RateLimitConfig, err error) (bool, int, int) {
	slog.WarnContext(ctx, "rate limit store unavailable, allowing request", "error", err)
	if s.metrics != nil {
		s.metrics.IncRateLimitRedisErrors()
	}
	return true, config.RequestsPerWindow, 0
}
