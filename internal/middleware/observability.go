package middleware

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	acnerrors "github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/logger"
)

// traceIDHeader matches the teacher's infrastructure/middleware/logging.go
// trace-propagation header.
const traceIDHeader = "X-Trace-ID"

// RequestLogger logs one structured line per request (method, path, status,
// duration, trace id), generalizing the teacher's LoggingMiddleware from
// gorilla/mux's MiddlewareFunc shape to a gin.HandlerFunc.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		traceID := c.GetHeader(traceIDHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Writer.Header().Set(traceIDHeader, traceID)
		c.Request.Header.Set(traceIDHeader, traceID)

		c.Next()

		log.WithFields(map[string]any{
			"trace_id": traceID,
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"ip":       c.ClientIP(),
		}).Info("http request")
	}
}

// Recovery recovers from a handler panic, logs it with a stack trace, and
// writes the same {"detail": ...} 500 body every other error path uses,
// generalizing the teacher's RecoveryMiddleware from net/http to gin.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(map[string]any{
					"panic": fmt.Sprintf("%v", r),
					"stack": string(debug.Stack()),
					"path":  c.Request.URL.Path,
				}).Error("panic recovered")
				RespondError(c, acnerrors.Internal("internal server error", fmt.Errorf("%v", r)))
			}
		}()
		c.Next()
	}
}

// SecurityHeaders sets the small set of response headers the teacher's
// infrastructure/middleware/security_headers.go applies unconditionally.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")
		c.Writer.Header().Set("X-Frame-Options", "DENY")
		c.Writer.Header().Set("Referrer-Policy", "no-referrer")
		c.Next()
	}
}
