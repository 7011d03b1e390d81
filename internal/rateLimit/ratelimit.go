package rateLimit

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	redisadapter "github.com/robertarktes/movie-ticket-booking/internal/adapters/redis"
)

// RateLimiter is a fixed-window counter per key.
type RateLimiter struct {
	redis *redisadapter.Cache
}

func NewRateLimiter(redis *redisadapter.Cache) *RateLimiter {
	return &RateLimiter{redis: redis}
}

func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) (bool, error) {
	fullKey := "rl:" + key

	pipe := rl.redis.Client().TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, period)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, errors.Wrap(err, "rate limit")
	}

	return incr.Val() <= int64(rate), nil
}
