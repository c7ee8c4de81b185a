package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"twinpool/pkg/logger"
)

// Recovery turns a handler panic into a 500 response. The stack is only
// returned to the client in debug mode.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			stack := string(debug.Stack())
			logger.Error("panic recovered",
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("panic", fmt.Sprint(rec)),
				zap.String("stack", stack),
			)

			body := gin.H{"error": "Internal Server Error"}
			if gin.Mode() == gin.DebugMode {
				body["panic"] = fmt.Sprint(rec)
				body["stack"] = stack
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, body)
		}()

		c.Next()
	}
}
