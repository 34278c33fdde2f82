package services

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// AttemptLimiter bounds how often a key may be used within a window.
type AttemptLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisAttemptLimiter is a fixed-window counter shared by every replica.
type RedisAttemptLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewRedisAttemptLimiter(client *redis.Client, limit int, window time.Duration) *RedisAttemptLimiter {
	return &RedisAttemptLimiter{client: client, limit: int64(limit), window: window}
}

func (l *RedisAttemptLimiter) Allow(ctx context.Context, key string) (bool, error) {
	key = "ratelimit:" + key
	n, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return false, err
		}
	}
	return n <= l.limit, nil
}
