package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deadswitch/backend/internal/auth"
	"deadswitch/backend/internal/domain"
	"deadswitch/backend/internal/liveness"
	"deadswitch/backend/internal/service"
)

// errorMapping 业务错误到 HTTP 状态码与中文消息的映射
// msg 为空时使用错误本身的描述
type errorMapping struct {
	target error
	status int
	msg    string
}

// 错误映射表，按顺序匹配，具体错误在前，分类错误在后
var errorTable = []errorMapping{
	// 认证
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, MsgInvalidCredentials},
	{auth.ErrRegistrationClosed, http.StatusForbidden, "注册已关闭"},
	{domain.ErrUserExists, http.StatusConflict, "该身份已注册"},

	// 消息创建规则
	{service.ErrSelfRecipient, http.StatusForbidden, "接收人不能是自己"},
	{service.ErrPeriodTooShort, http.StatusForbidden, "检测周期短于调度周期"},
	{service.ErrRecipientUnknown, http.StatusNotFound, "接收人未注册"},
	{service.ErrRecipientNotSubscribed, http.StatusForbidden, "接收人尚未开启推送通知"},

	// 资源
	{domain.ErrMessageNotFound, http.StatusNotFound, MsgMessageNotFound},
	{domain.ErrUserNotFound, http.StatusNotFound, MsgUserNotFound},
	{domain.ErrNoSubscription, http.StatusUnprocessableEntity, "目标用户未开启推送通知"},

	// 调度
	{liveness.ErrTickInProgress, http.StatusConflict, "已有检测任务在运行"},

	// 分类
	{domain.ErrInvalidParameters, http.StatusBadRequest, ""},
	{domain.ErrCombination, http.StatusBadRequest, ""},
	{domain.ErrUnauthorized, http.StatusUnauthorized, MsgTokenInvalid},
	{domain.ErrForbidden, http.StatusForbidden, MsgPermissionDenied},
	{domain.ErrNotFound, http.StatusNotFound, "资源不存在"},
	{domain.ErrDuplicate, http.StatusConflict, "资源冲突"},
	{domain.ErrDeliveryFailed, http.StatusBadGateway, "通知投递失败"},
}

// StatusFor 返回错误对应的 HTTP 状态码与提示信息
func StatusFor(err error) (int, string) {
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			if m.msg == "" {
				return m.status, err.Error()
			}
			return m.status, m.msg
		}
	}
	return http.StatusInternalServerError, MsgInternalError
}

// RespondError 按映射表输出错误响应，未知错误记录日志并返回 500
func RespondError(c *gin.Context, log *zap.Logger, err error) {
	status, msg := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, Response{Code: status, Msg: msg})
}

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest = "请求参数格式错误"

	// 认证相关
	MsgInvalidCredentials = "身份或密码错误"
	MsgTokenInvalid       = "无效的访问令牌"
	MsgPermissionDenied   = "权限不足"

	// 资源相关
	MsgMessageNotFound = "消息不存在"
	MsgUserNotFound    = "用户不存在"
	MsgPushDisabled    = "服务器未配置 Web Push"

	// 服务器错误
	MsgInternalError = "服务器内部错误，请稍后重试"
)
