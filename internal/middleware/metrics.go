package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/r3e-network/acn/internal/metrics"
)

// HTTPMetrics records request-surface Prometheus metrics, generalizing the
// teacher's infrastructure/middleware/metrics.go from gorilla/mux's
// wrapped-ResponseWriter status capture (gin already tracks this on
// c.Writer) to a gin.HandlerFunc, and using gin's matched route template
// (c.FullPath()) in place of mux.CurrentRoute's path template so
// high-cardinality path params never leak into a label value.
func HTTPMetrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.IncrementInFlight()
		defer m.DecrementInFlight()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
