// internal/pkg/ratelimit/ratelimit.go
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a fixed-window counter kept in Redis.
type Limiter struct {
	client redis.Cmdable
}

func NewLimiter(client redis.Cmdable) *Limiter {
	return &Limiter{client: client}
}

// Allow counts one hit against subject/endpoint and reports whether it is
// within max for the current window, plus the hits left.
func (l *Limiter) Allow(ctx context.Context, subject, endpoint string, max int64, window time.Duration) (bool, int64, error) {
	key := fmt.Sprintf("ratelimit:api:%s:%s", subject, endpoint)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	// Set expiration on first hit
	if count == 1 {
		if err := l.client.Expire(ctx, key, window).Err(); err != nil {
			return false, 0, fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}

	remaining := max - count
	if remaining < 0 {
		remaining = 0
	}

	return count <= max, remaining, nil
}

// Reset clears the counter for subject/endpoint.
func (l *Limiter) Reset(ctx context.Context, subject, endpoint string) error {
	key := fmt.Sprintf("ratelimit:api:%s:%s", subject, endpoint)
	return l.client.Del(ctx, key).Err()
}
