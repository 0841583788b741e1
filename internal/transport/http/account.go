package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deadswitch/backend/internal/domain"
	"deadswitch/backend/internal/middleware"
	"deadswitch/backend/internal/service"
)

// AccountHandler 处理推送订阅与测试通知
type AccountHandler struct {
	activity       *service.ActivityService
	vapidPublicKey string
	log            *zap.Logger
}

// NewAccountHandler 创建账户处理器
//
// 参数:
//   - activity: 活动服务
//   - vapidPublicKey: 浏览器订阅时使用的 VAPID 公钥，为空表示未启用 Web Push
//   - log: 日志记录器
func NewAccountHandler(activity *service.ActivityService, vapidPublicKey string, log *zap.Logger) *AccountHandler {
	return &AccountHandler{activity: activity, vapidPublicKey: vapidPublicKey, log: log}
}

type testNotificationRequest struct {
	Target string `json:"target"`
}

// Subscribe 登记推送订阅
//
// PUT /v1/subscription
func (h *AccountHandler) Subscribe(c *gin.Context) {
	var sub domain.Subscription
	if err := c.ShouldBindJSON(&sub); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	if err := h.activity.Subscribe(c.Request.Context(), middleware.Identity(c), sub); err != nil {
		RespondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "订阅成功", nil)
}

// Unsubscribe 取消推送订阅
//
// DELETE /v1/subscription
func (h *AccountHandler) Unsubscribe(c *gin.Context) {
	if err := h.activity.Unsubscribe(c.Request.Context(), middleware.Identity(c)); err != nil {
		RespondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "已取消订阅", nil)
}

// TestNotification 发送测试通知，target 为空时发给自己
//
// POST /v1/notifications/test
func (h *AccountHandler) TestNotification(c *gin.Context) {
	var req testNotificationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, MsgInvalidRequest)
			return
		}
	}
	if err := h.activity.TestNotification(c.Request.Context(), middleware.Identity(c), req.Target); err != nil {
		RespondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "测试通知已发送", nil)
}

// VAPIDPublicKey 返回 VAPID 公钥
//
// GET /v1/push/vapid-public-key
func (h *AccountHandler) VAPIDPublicKey(c *gin.Context) {
	if h.vapidPublicKey == "" {
		NotFound(c, MsgPushDisabled)
		return
	}
	Success(c, gin.H{"public_key": h.vapidPublicKey})
}
