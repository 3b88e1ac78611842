package middleware

import "github.com/gin-gonic/gin"

// abortFail stops the chain with the client-error envelope.
func abortFail(c *gin.Context, code int, msg string) {
	status := "fail"
	if code >= 500 {
		status = "error"
	}
	c.AbortWithStatusJSON(code, gin.H{"status": status, "message": msg})
}
