// internal/middleware/ratelimit_middleware.go
package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	xerrors "inspecto-service/internal/pkg/errors"
	"inspecto-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Limiter interface {
	Allow(ctx context.Context, subject, endpoint string, max int64, window time.Duration) (bool, int64, error)
}

// RateLimit caps requests per subscriber (or client IP before auth) on
// endpoint. A limiter outage lets requests through.
func RateLimit(limiter Limiter, endpoint string, max int64, window time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if max <= 0 {
			c.Next()
			return
		}

		subject := c.ClientIP()
		if id, ok := GetSubscriberID(c); ok {
			subject = id.String()
		}

		allowed, remaining, err := limiter.Allow(c.Request.Context(), subject, endpoint, max, window)
		if err != nil {
			logger.Warn("rate limiter unavailable",
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			response.Error(c, http.StatusTooManyRequests, "rate limit exceeded", xerrors.ErrRateLimited)
			return
		}
		c.Next()
	}
}
