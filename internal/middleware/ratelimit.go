package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/r3e-network/acn/internal/ratelimit"
)

// RateLimit builds a gin middleware enforcing limiter's per-IP token
// bucket, grounded on teacher infrastructure/middleware/ratelimit.go's
// client-IP-keyed limiter-lookup-then-Allow pattern. A rejection is a
// transport-layer 429, not one of the domain error Kinds in spec §7 — it
// never reaches a service method.
func RateLimit(limiter *ratelimit.PerIPLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{Detail: "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
