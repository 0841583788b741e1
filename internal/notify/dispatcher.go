package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"deadswitch/backend/internal/domain"
	"deadswitch/backend/internal/storage"
)

// Recorder 记录投递指标
type Recorder interface {
	RecordPing(delivered bool)
	RecordRelease()
	RecordRecipientNotice(delivered bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordPing(bool)            {}
func (nopRecorder) RecordRelease()             {}
func (nopRecorder) RecordRecipientNotice(bool) {}

// PingDispatcher 向所有者投递存活探测并记录投递结果。
//
// 截止时间与失败计数由调度器在 ping 之前推进，这里只记录投递次数与结果，
// 投递失败不会影响下一次检测的时间。
type PingDispatcher struct {
	users    storage.UserRepository
	messages storage.MessageRepository
	pusher   Pusher
	limiter  *rate.Limiter
	recorder Recorder
	log      *zap.Logger
}

// NewPingDispatcher 创建 ping 投递器
//
// 参数:
//   - users, messages: 用户与消息存储
//   - pusher: 通知通道
//   - limiter: 推送限速器，为 nil 时不限速
//   - recorder: 指标记录器，可为 nil
//   - log: 日志记录器
func NewPingDispatcher(
	users storage.UserRepository,
	messages storage.MessageRepository,
	pusher Pusher,
	limiter *rate.Limiter,
	recorder Recorder,
	log *zap.Logger,
) *PingDispatcher {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &PingDispatcher{
		users:    users,
		messages: messages,
		pusher:   pusher,
		limiter:  limiter,
		recorder: recorder,
		log:      log,
	}
}

// Ping 投递一次 ping。投递失败时返回的错误匹配 domain.ErrDeliveryFailed，
// 消息已删除时返回 domain.ErrNotFound。
func (d *PingDispatcher) Ping(ctx context.Context, owner, messageID string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("push rate limit: %w", err)
	}

	var pushErr error
	user, err := d.users.GetUser(ctx, owner)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		pushErr = domain.ErrNoSubscription
	case err != nil:
		return err
	default:
		pushErr = d.pusher.Push(ctx, user, domain.OwnerPingNotification(messageID))
	}

	_, err = d.messages.UpdateMessage(ctx, messageID, func(m *domain.Message) error {
		m.PingAttempts++
		m.PingDelivered = pushErr == nil
		m.LastPingError = ""
		if pushErr != nil {
			m.LastPingError = pushErr.Error()
		}
		return nil
	})
	if err != nil {
		return err
	}

	d.recorder.RecordPing(pushErr == nil)
	if pushErr != nil {
		return deliveryError("ping", pushErr)
	}

	d.log.Info("owner pinged",
		zap.String("owner", owner),
		zap.String("message_id", messageID))
	return nil
}
