package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestObserver records served requests;
// *prometheus.PipelineMetrics satisfies it.
type RequestObserver interface {
	ObserveHTTPRequest(method, path, statusCode string, d time.Duration)
}

// RequestMetrics observes every request under its route template, so
// /runs/:id is one series regardless of the ID. Unmatched routes are
// reported as "unmatched".
func RequestMetrics(obs RequestObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		obs.ObserveHTTPRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
