package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/daybook-io/daybook-auth/internal/infrastructure/monitoring"
	"github.com/daybook-io/daybook-auth/internal/infrastructure/ratelimit"
	"github.com/daybook-io/daybook-auth/pkg/errors"
)

// RateLimit rejects requests once the caller's token bucket for the named
// endpoint is empty. Buckets are keyed by endpoint and client address.
func RateLimit(limiter *ratelimit.RedisRateLimiter, metrics *monitoring.Metrics, endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := limiter.Allow(c.Request.Context(), endpoint+":"+c.ClientIP())
		if err != nil {
			c.Next()
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
		if !res.Allowed {
			if metrics != nil {
				metrics.RateLimitRejected.WithLabelValues(endpoint).Inc()
			}
			c.Header("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
			status, body := errors.ToErrorResponse(errors.ErrRateLimited())
			c.AbortWithStatusJSON(status, body)
			return
		}
		c.Next()
	}
}
