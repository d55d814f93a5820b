package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/scolarix/registrar-api/internal/service"
)

// Metrics observes every request's method, route template, status, and
// latency. The route template keeps label cardinality bounded; unmatched
// requests fall back to the raw path.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
