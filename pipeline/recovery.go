package pipeline

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-shopify-app/core"
)

// Recovery turns handler panics into a logged 500. http.ErrAbortHandler is
// raised again so net/http drops the connection and a response that was cut
// short mid-stream never reaches the client as complete.
func Recovery(logger core.Logger) gin.HandlerFunc {
	logger = core.ResolveLogger("recovery", nil, logger)
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		if err, ok := recovered.(error); ok && errors.Is(err, http.ErrAbortHandler) {
			panic(http.ErrAbortHandler)
		}
		core.LogWithLevel(c.Request.Context(), logger, "error", "panic recovered", map[string]any{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"panic":  fmt.Sprint(recovered),
			"stack":  string(debug.Stack()),
		})
		if c.Writer.Written() {
			c.Abort()
			return
		}
		c.AbortWithStatus(http.StatusInternalServerError)
	})
}
