package cache

import (
	"log/slog"
	"strconv"
	"time"

	"blacksheep/internal/auth"
	"blacksheep/internal/httperr"
	"blacksheep/internal/model"

	"github.com/gin-gonic/gin"
)

// RateLimitOptions configures RateLimit.
type RateLimitOptions struct {
	// RequestsPerMinute applies to users whose own rate limit is 0.
	RequestsPerMinute int
	Burst             int
}

// RateLimit limits authenticated callers per user. It must run after one of
// the auth middlewares. A nil limiter disables it.
func RateLimit(limiter Limiter, opts RateLimitOptions, logger *slog.Logger) gin.HandlerFunc {
	logger = logger.With("component", "ratelimit")
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		user, ok := auth.UserFrom(c)
		if !ok {
			c.Next()
			return
		}

		perMinute := opts.RequestsPerMinute
		if user.RateLimit > 0 {
			perMinute = user.RateLimit
		}

		result, err := limiter.Allow(c.Request.Context(), user.ID, perMinute, opts.Burst)
		if err != nil {
			logger.Error("rate limit check failed", "error", err, "user_id", user.ID)
		}
		if result == nil {
			c.Next()
			return
		}

		if perMinute > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(perMinute))
			c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
		}
		if !result.Allowed {
			retry := int(result.RetryAfter / time.Second)
			if retry < 1 {
				retry = 1
			}
			logger.Warn("rate limit exceeded", "user_id", user.ID, "username", user.Username, "retry_after_seconds", retry)
			c.Header("Retry-After", strconv.Itoa(retry))
			httperr.Abort(c, logger, model.ErrRateLimited)
			return
		}
		c.Next()
	}
}
