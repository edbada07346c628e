package middleware

import (
	"strconv"
	"time"

	"hui-manager/internal/logger"
	"hui-manager/internal/metrics"

	"github.com/gin-gonic/gin"
)

// Observe records request count and latency per route template and logs
// each request.
func Observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(elapsed.Seconds())

		if route == "/metrics" || route == "/healthz" {
			return
		}
		args := []any{"method", c.Request.Method, "path", c.Request.URL.Path, "status", status, "ms", elapsed.Milliseconds()}
		if uid := c.GetString(KeyUserID); uid != "" {
			args = append(args, "uid", uid)
		}
		if status >= 500 {
			logger.Error("http.request", args...)
		} else {
			logger.Debug("http.request", args...)
		}
	}
}
