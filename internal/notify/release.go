package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"deadswitch/backend/internal/domain"
	"deadswitch/backend/internal/storage"
)

// ErrPrematureRelease 失败计数尚未达到上限
var ErrPrematureRelease = fmt.Errorf("release before failure limit: %w", domain.ErrForbidden)

// ErrNotReleased 消息尚未释放，不能通知接收人
var ErrNotReleased = fmt.Errorf("message not released: %w", domain.ErrForbidden)

// ReleaseNotifier 释放消息并通知接收人与所有者。
//
// Release 对同一条消息可重复调用，只有第一次会修改状态。
type ReleaseNotifier struct {
	users    storage.UserRepository
	messages storage.MessageRepository
	pusher   Pusher
	recorder Recorder
	now      func() time.Time
	log      *zap.Logger
}

// ReleaseOption 释放通知器可选项
type ReleaseOption func(*ReleaseNotifier)

// WithReleaseClock 注入时钟
func WithReleaseClock(now func() time.Time) ReleaseOption {
	return func(r *ReleaseNotifier) { r.now = now }
}

// NewReleaseNotifier 创建释放通知器
func NewReleaseNotifier(
	users storage.UserRepository,
	messages storage.MessageRepository,
	pusher Pusher,
	recorder Recorder,
	log *zap.Logger,
	opts ...ReleaseOption,
) *ReleaseNotifier {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	r := &ReleaseNotifier{
		users:    users,
		messages: messages,
		pusher:   pusher,
		recorder: recorder,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Release 将消息标记为已释放，然后通知接收人。
//
// 已释放的消息只会补发尚未送达的接收人通知；已删除的消息直接忽略。
// 失败计数未达到上限时返回 ErrPrematureRelease。
func (r *ReleaseNotifier) Release(ctx context.Context, messageID string) error {
	now := r.now()
	released := false

	msg, err := r.messages.UpdateMessage(ctx, messageID, func(m *domain.Message) error {
		if m.Revealed {
			return nil
		}
		if m.ConsecutiveFailures < m.MaxFailedVerification {
			return ErrPrematureRelease
		}
		m.Revealed = true
		m.RevealedAt = &now
		released = true
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		r.log.Debug("message deleted before release", zap.String("message_id", messageID))
		return nil
	}
	if err != nil {
		return err
	}

	if released {
		r.recorder.RecordRelease()
		r.log.Info("message released",
			zap.String("message_id", messageID),
			zap.String("owner", msg.Owner),
			zap.String("recipient", msg.Recipient))
		r.notifyOwner(ctx, msg)
	}

	if msg.RecipientNotifiedAt != nil {
		return nil
	}
	return r.notify(ctx, msg)
}

// NotifyRecipient 通知（或提醒）接收人消息已释放。
// 只有投递成功才会记录 RecipientNotifiedAt。
func (r *ReleaseNotifier) NotifyRecipient(ctx context.Context, messageID string) error {
	msg, err := r.messages.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if !msg.Revealed {
		return ErrNotReleased
	}
	return r.notify(ctx, msg)
}

func (r *ReleaseNotifier) notify(ctx context.Context, msg *domain.Message) error {
	user, err := r.users.GetUser(ctx, msg.Recipient)
	if errors.Is(err, domain.ErrNotFound) {
		r.recorder.RecordRecipientNotice(false)
		return domain.ErrNoSubscription
	}
	if err != nil {
		return err
	}

	if err := r.pusher.Push(ctx, user, domain.RecipientReleaseNotification(msg.ID, msg.Owner)); err != nil {
		r.recorder.RecordRecipientNotice(false)
		return deliveryError("recipient notice", err)
	}
	r.recorder.RecordRecipientNotice(true)

	at := r.now()
	if _, err := r.messages.UpdateMessage(ctx, msg.ID, func(m *domain.Message) error {
		m.RecipientNotifiedAt = &at
		return nil
	}); err != nil {
		return err
	}

	r.log.Info("recipient notified",
		zap.String("message_id", msg.ID),
		zap.String("recipient", msg.Recipient))
	return nil
}

// notifyOwner 尽力通知所有者，失败只记录日志
func (r *ReleaseNotifier) notifyOwner(ctx context.Context, msg *domain.Message) {
	if msg.OwnerNotifiedAt != nil {
		return
	}
	user, err := r.users.GetUser(ctx, msg.Owner)
	if err != nil {
		r.log.Warn("owner lookup failed", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	if err := r.pusher.Push(ctx, user, domain.OwnerReleaseNotification(msg.ID, msg.Recipient)); err != nil {
		r.log.Warn("owner release notice failed", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}

	at := r.now()
	if _, err := r.messages.UpdateMessage(ctx, msg.ID, func(m *domain.Message) error {
		m.OwnerNotifiedAt = &at
		return nil
	}); err != nil {
		r.log.Warn("record owner notice failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
}
