package middleware

import (
	"time"

	"github.com/boxsignal/repricer/internal/pkg/metrics"
	"github.com/gin-gonic/gin"
)

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start).Seconds()

		metrics.HTTPLatency.WithLabelValues(c.FullPath()).Observe(duration)
	}
}
