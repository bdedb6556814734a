package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

// RequestLogger logs one line per request. Health probes are logged at
// debug level only.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := GetRequestLogger(c).WithFields(map[string]interface{}{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    SanitizePath(c.Request.URL.Path),
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		})
		if uid, ok := c.Get(UserIDKey); ok {
			entry = entry.WithField("user", uid)
		}
		switch {
		case c.FullPath() == "/api/v1/health":
			entry.Debug("handled request")
		case c.Writer.Status() >= 500:
			entry.Error("handled request")
		default:
			entry.Info("handled request")
		}
	}
}
