package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deadswitch/backend/internal/domain"
	"deadswitch/backend/internal/middleware"
	"deadswitch/backend/internal/service"
)

// MessageHandler 处理消息的创建、查询与删除
type MessageHandler struct {
	messages *service.MessageService
	log      *zap.Logger
}

// NewMessageHandler 创建消息处理器
func NewMessageHandler(messages *service.MessageService, log *zap.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, log: log}
}

// Create 新建消息，调用方即所有者
//
// POST /v1/messages
func (h *MessageHandler) Create(c *gin.Context) {
	var req domain.CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	view, err := h.messages.Create(c.Request.Context(), middleware.Identity(c), req)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	Created(c, view)
}

// ListOwned 列出调用方创建的消息
//
// GET /v1/messages
func (h *MessageHandler) ListOwned(c *gin.Context) {
	views, err := h.messages.ListOwned(c.Request.Context(), middleware.Identity(c))
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	Success(c, views)
}

// ListReceived 列出留给调用方的消息，未释放的不含系统分片
//
// GET /v1/messages/received
func (h *MessageHandler) ListReceived(c *gin.Context) {
	views, err := h.messages.ListReceived(c.Request.Context(), middleware.Identity(c))
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	Success(c, views)
}

// Get 查询单条消息
//
// GET /v1/messages/:id
func (h *MessageHandler) Get(c *gin.Context) {
	view, err := h.messages.Get(c.Request.Context(), c.Param("id"), middleware.Identity(c))
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	Success(c, view)
}

// Delete 删除消息，所有者随时可删，接收人仅在释放后可删
//
// DELETE /v1/messages/:id
func (h *MessageHandler) Delete(c *gin.Context) {
	if err := h.messages.Delete(c.Request.Context(), c.Param("id"), middleware.Identity(c)); err != nil {
		RespondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "删除成功", nil)
}
