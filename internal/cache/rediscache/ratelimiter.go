package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter shared by every instance pointing at the same Redis.
type RateLimiter struct {
	c      *redis.Client
	prefix string
}

func NewRateLimiter(addr, prefix string) *RateLimiter {
	return &RateLimiter{
		c:      redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
	}
}

// Allow делает INCR по ключу и ставит TTL, если ключ создаётся впервые,
// так что окно не сдвигается под постоянной нагрузкой.
// Возвращает (allowed, currentCount).
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	k := rl.prefix + key
	n, err := rl.c.Incr(ctx, k).Result()
	if err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	if n == 1 {
		if err := rl.c.Expire(ctx, k, window).Err(); err != nil {
			return false, 0, errors.Wrap(err, "redis ratelimit expire")
		}
	}
	return n <= limit, n, nil
}
