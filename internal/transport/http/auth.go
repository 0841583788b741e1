package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deadswitch/backend/internal/auth"
)

// AuthHandler 处理认证相关的 HTTP 请求
type AuthHandler struct {
	authService *auth.Service // 认证业务服务
	log         *zap.Logger   // 结构化日志记录器
}

// NewAuthHandler 创建新的认证处理器实例
//
// 参数:
//   - authService: 认证业务服务
//   - log: 日志记录器
//
// 返回值:
//   - *AuthHandler: 认证处理器实例
func NewAuthHandler(authService *auth.Service, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		log:         log,
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Register 处理用户注册请求
//
// POST /v1/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req auth.Credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	resp, err := h.authService.Register(c.Request.Context(), req)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	Created(c, resp)
}

// Login 处理用户登录请求，登录本身即一次所有者活动
//
// POST /v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req auth.Credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	resp, err := h.authService.Login(c.Request.Context(), req)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}

	h.log.Info("user logged in", zap.String("identity", resp.User.ID))
	Success(c, resp)
}

// Refresh 使用刷新令牌换取新的令牌对
//
// POST /v1/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	tokens, err := h.authService.Refresh(req.RefreshToken)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	Success(c, tokens)
}
