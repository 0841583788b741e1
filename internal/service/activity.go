package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"deadswitch/backend/internal/domain"
	"deadswitch/backend/internal/storage"
)

// Pusher 通知通道
type Pusher interface {
	Push(ctx context.Context, user *domain.User, n domain.Notification) error
}

// ActivityService 处理所有者活动、推送订阅与测试通知。
type ActivityService struct {
	messages storage.MessageRepository
	users    storage.UserRepository
	pusher   Pusher
	now      func() time.Time
	log      *zap.Logger
}

// NewActivityService 创建活动服务
func NewActivityService(messages storage.MessageRepository, users storage.UserRepository, pusher Pusher, log *zap.Logger) *ActivityService {
	return &ActivityService{
		messages: messages,
		users:    users,
		pusher:   pusher,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
}

// RecordActivity 记录一次经过认证的活动。
//
// 作为所有者：每条未释放消息的 OwnerLastSeen 前移并清零失败计数。
// 作为接收人：刷新 RecipientLastSeen。
// 每条消息在原子更新中修改，与并发的 tick 交错时登录优先。
func (s *ActivityService) RecordActivity(ctx context.Context, identity string) error {
	now := s.now()
	if err := s.users.TouchUser(ctx, identity, now); err != nil {
		return err
	}

	owned, err := s.messages.ListByOwner(ctx, identity)
	if err != nil {
		return err
	}
	reset := 0
	for i := range owned {
		if owned[i].Revealed {
			continue
		}
		_, err := s.messages.UpdateMessage(ctx, owned[i].ID, func(m *domain.Message) error {
			m.RecordOwnerLogin(now)
			return nil
		})
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if owned[i].ConsecutiveFailures > 0 {
			reset++
		}
	}

	received, err := s.messages.ListByRecipient(ctx, identity)
	if err != nil {
		return err
	}
	for i := range received {
		_, err := s.messages.UpdateMessage(ctx, received[i].ID, func(m *domain.Message) error {
			if now.After(m.RecipientLastSeen) {
				m.RecipientLastSeen = now
			}
			return nil
		})
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}

	if reset > 0 {
		s.log.Info("owner activity reset verification failures",
			zap.String("owner", identity),
			zap.Int("messages", reset))
	}
	return nil
}

// Subscribe 登记推送订阅
func (s *ActivityService) Subscribe(ctx context.Context, identity string, sub domain.Subscription) error {
	if sub.IsZero() || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return fmt.Errorf("%w: endpoint and keys are required", domain.ErrInvalidParameters)
	}
	if err := s.users.SetSubscription(ctx, identity, sub); err != nil {
		return err
	}
	s.log.Info("push subscription registered", zap.String("identity", identity))
	return nil
}

// Unsubscribe 取消推送订阅
func (s *ActivityService) Unsubscribe(ctx context.Context, identity string) error {
	return s.users.SetSubscription(ctx, identity, domain.Subscription{})
}

// TestNotification 向 target 发送测试通知，target 为空表示发给自己
func (s *ActivityService) TestNotification(ctx context.Context, from, target string) error {
	target = domain.NormalizeIdentity(target)
	if target == "" {
		target = from
	}
	if err := domain.ValidateIdentity(target); err != nil {
		return err
	}

	user, err := s.users.GetUser(ctx, target)
	if err != nil {
		return err
	}
	if err := s.pusher.Push(ctx, user, domain.TestNotification(from, target == from)); err != nil {
		return err
	}
	s.log.Info("test notification sent", zap.String("from", from), zap.String("to", target))
	return nil
}
