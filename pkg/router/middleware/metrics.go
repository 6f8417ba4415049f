package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/umbrella22/ops-service/pkg/metrics"
)

var (
	httpRequestsTotal = metrics.NewCounterVec(
		"http_requests_total",
		"Total number of HTTP requests",
		[]string{"method", "path", "status"},
		metrics.WithoutSuffix(),
	)

	httpRequestErrorsTotal = metrics.NewCounterVec(
		"http_request_errors_total",
		"Total number of HTTP requests that returned a 4xx or 5xx status",
		[]string{"method", "path", "status"},
		metrics.WithoutSuffix(),
	)

	httpRequestDuration = metrics.NewHistogramVec(
		"http_request_duration_seconds",
		"HTTP request duration in seconds",
		[]string{"method", "path"},
		metrics.WithoutSuffix(),
	)

	httpRequestsInFlight = metrics.NewGaugeVec(
		"http_requests_in_flight",
		"Number of HTTP requests currently being processed",
		[]string{"method"},
		metrics.WithoutSuffix(),
	)
)

// HandleMetrics records per-request counters, in-flight gauge and duration
// histogram. The /metrics endpoint itself is excluded to avoid
// self-referential measurements.
func HandleMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		method := c.Request.Method

		httpRequestsInFlight.Inc(method)
		defer httpRequestsInFlight.Dec(method)

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		statusStr := strconv.Itoa(c.Writer.Status())

		httpRequestsTotal.Inc(method, path, statusStr)
		if c.Writer.Status() >= 400 {
			httpRequestErrorsTotal.Inc(method, path, statusStr)
		}
		httpRequestDuration.Observe(time.Since(start).Seconds(), method, path)
	}
}
