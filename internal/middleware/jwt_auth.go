package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deadswitch/backend/internal/auth/jwt"
)

// IdentityKey 上下文中保存身份的键
const IdentityKey = "identity"

// ActivityRecorder 记录经过认证的所有者活动
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, identity string) error
}

// JWTAuth JWT认证中间件
type JWTAuth struct {
	jwtManager *jwt.Manager
	activity   ActivityRecorder
	log        *zap.Logger
}

// NewJWTAuth 创建JWT认证中间件
//
// 每个通过认证的请求都会记录一次所有者活动；activity 为 nil 时不记录。
func NewJWTAuth(jwtManager *jwt.Manager, activity ActivityRecorder, log *zap.Logger) *JWTAuth {
	return &JWTAuth{
		jwtManager: jwtManager,
		activity:   activity,
		log:        log,
	}
}

// RequireAuth 要求JWT认证
func (ja *JWTAuth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			abort(c, http.StatusUnauthorized, "authentication required")
			return
		}

		claims, err := ja.jwtManager.ValidateAccessToken(token)
		if err != nil {
			ja.log.Warn("invalid token",
				zap.String("error", err.Error()),
				zap.String("ip", c.ClientIP()),
			)
			abort(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		if ja.activity != nil {
			if err := ja.activity.RecordActivity(c.Request.Context(), claims.Identity); err != nil {
				ja.log.Error("record activity failed",
					zap.String("identity", claims.Identity),
					zap.Error(err))
				abort(c, http.StatusInternalServerError, "failed to record activity")
				return
			}
		}

		c.Set(IdentityKey, claims.Identity)
		c.Next()
	}
}

// Identity 返回当前请求的身份
func Identity(c *gin.Context) string {
	return c.GetString(IdentityKey)
}

// extractToken 从请求中提取JWT token
func extractToken(c *gin.Context) string {
	// 1. 从 Authorization header 提取
	if token := bearer(c); token != "" {
		return token
	}

	// 2. 从 cookie 提取
	token, err := c.Cookie("access_token")
	if err == nil && token != "" {
		return token
	}

	return ""
}

func bearer(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"code": status,
		"msg":  msg,
	})
}
