package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/umbrella22/ops-service/pkg/logger/log"
)

// HandleLogging logs one line per completed request.
func HandleLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)
		log.Infof(
			"Request: Method=%s | Path=%s | Status=%d | IP=%s | Duration=%v",
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			c.ClientIP(),
			duration,
		)
	}
}
