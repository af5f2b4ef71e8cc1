package security

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

// AccessLogMiddleware logs each request. Paths in skipPaths are not logged.
func AccessLogMiddleware(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		kv := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"clientIP", c.ClientIP(),
		}
		if client := GetClientID(c); client != "" {
			kv = append(kv, "client", client)
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Warn("HTTP request", kv...)
			return
		}
		log.Info("HTTP request", kv...)
	}
}
