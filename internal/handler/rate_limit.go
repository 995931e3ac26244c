package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/identity-service/internal/apperr"
	"github.com/prperemyshlev/identity-service/internal/service"
	"github.com/prperemyshlev/identity-service/pkg/observability"
	"go.uber.org/zap"
)

var rateLimitExempt = []string{"/health", "/docs", "/metrics"}

// RateLimitMiddleware creates a rate limiting middleware. A failing backend admits the request.
func RateLimitMiddleware(limiter service.RateLimiter, metrics *observability.AuthMetrics, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, prefix := range rateLimitExempt {
			if strings.HasPrefix(path, prefix) {
				c.Next()
				return
			}
		}

		key := RateLimitKey(c)
		res, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Warn("Rate limiter unavailable, request admitted", zap.String("path", path), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

		if !res.Allowed {
			metrics.RateLimited(c.Request.Context(), path)
			logger.Warn("Rate limit exceeded", zap.String("ip", c.ClientIP()), zap.String("path", path))
			writeError(c, apperr.RateLimited(res.RetryAfterSeconds()))
			return
		}

		c.Next()
	}
}

// RateLimitKey identifies a client on one route: IP, user agent and path.
func RateLimitKey(c *gin.Context) string {
	return c.ClientIP() + "-" + c.Request.UserAgent() + "-" + c.Request.URL.Path
}
