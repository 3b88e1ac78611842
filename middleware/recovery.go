package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Recovery turns a panicking handler into the generic 500 envelope. The
// panic value and stack only go to the log.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			log.Error("handler panic",
				zap.Any("panic", r),
				zap.String("trace_id", GetTraceID(c)),
				zap.String("method", c.Request.Method),
				zap.String("route", c.FullPath()),
				zap.Int64("user_id", GetUserID(c)),
				zap.Stack("stack"),
			)
			abortFail(c, http.StatusInternalServerError, "Server error")
		}()
		c.Next()
	}
}
