package common

import (
	"github.com/gin-gonic/gin"
)

// Fail writes the error envelope. extra fields (sessionId, fallback) are merged in.
func Fail(c *gin.Context, httpStatus int, code int, msg string, extra ...gin.H) {
	body := gin.H{
		"code":    code,
		"message": msg,
	}
	for _, e := range extra {
		for k, v := range e {
			body[k] = v
		}
	}
	c.JSON(httpStatus, body)
}

// Abort is Fail for middleware: it also stops the handler chain.
func Abort(c *gin.Context, httpStatus int, code int, msg string) {
	c.Abort()
	Fail(c, httpStatus, code, msg)
}
