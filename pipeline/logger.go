package pipeline

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-shopify-app/core"
)

// RequestLogger logs one line per request once the response is written.
func RequestLogger(logger core.Logger) gin.HandlerFunc {
	logger = core.ResolveLogger("http", nil, logger)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := map[string]any{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"stage":      stageLabel(c),
		}
		if len(c.Errors) > 0 {
			fields["error"] = c.Errors.Last().Error()
		}
		level := "info"
		switch {
		case status >= 500:
			level = "error"
		case status >= 400:
			level = "warn"
		}
		core.LogWithLevel(c.Request.Context(), logger, level, "request completed", fields)
	}
}
