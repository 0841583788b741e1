package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireTaskToken 保护外部触发的任务接口，token 为空时接口关闭
func RequireTaskToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			abort(c, http.StatusNotFound, "task endpoint disabled")
			return
		}

		got := bearer(c)
		if got == "" {
			got = c.GetHeader("X-Task-Token")
		}
		if got == "" {
			abort(c, http.StatusUnauthorized, "missing task token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			abort(c, http.StatusUnauthorized, "invalid task token")
			return
		}

		c.Next()
	}
}
