// Package notify 负责把通知投递给用户：Web Push、邮件与 WebSocket 通道，
// 以及建立在通道之上的 ping 投递器和释放通知器。
package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"deadswitch/backend/internal/domain"
)

// Pusher 通知通道
//
// 投递失败时返回的错误必须能用 errors.Is 匹配 domain.ErrDeliveryFailed。
type Pusher interface {
	Push(ctx context.Context, user *domain.User, n domain.Notification) error
}

// PusherFunc 把函数适配为 Pusher
type PusherFunc func(ctx context.Context, user *domain.User, n domain.Notification) error

// Push 调用 f
func (f PusherFunc) Push(ctx context.Context, user *domain.User, n domain.Notification) error {
	return f(ctx, user, n)
}

// deliveryError 把通道错误归类为投递失败
func deliveryError(channel string, err error) error {
	if errors.Is(err, domain.ErrDeliveryFailed) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrDeliveryFailed, channel, err)
}

// LogPusher 只记录日志，未配置任何通道时使用
type LogPusher struct {
	log *zap.Logger
}

// NewLogPusher 创建日志通道
func NewLogPusher(log *zap.Logger) *LogPusher {
	return &LogPusher{log: log}
}

// Push 记录通知
func (p *LogPusher) Push(_ context.Context, user *domain.User, n domain.Notification) error {
	p.log.Info("notification",
		zap.String("user", user.ID),
		zap.String("tag", string(n.Tag)),
		zap.String("message_id", n.MessageID),
		zap.String("title", n.Title))
	return nil
}

// MultiPusher 依次尝试所有通道，任一通道成功即视为送达
type MultiPusher struct {
	pushers []Pusher
	log     *zap.Logger
}

// NewMultiPusher 组合多个通道
func NewMultiPusher(log *zap.Logger, pushers ...Pusher) *MultiPusher {
	return &MultiPusher{pushers: pushers, log: log}
}

// Push 向每个通道投递，全部失败时返回合并后的错误
func (p *MultiPusher) Push(ctx context.Context, user *domain.User, n domain.Notification) error {
	if len(p.pushers) == 0 {
		return fmt.Errorf("%w: no channel configured", domain.ErrDeliveryFailed)
	}

	var errs []error
	delivered := false
	for _, pusher := range p.pushers {
		if err := pusher.Push(ctx, user, n); err != nil {
			p.log.Debug("channel delivery failed",
				zap.String("user", user.ID),
				zap.String("tag", string(n.Tag)),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		delivered = true
	}
	if delivered {
		return nil
	}
	return errors.Join(errs...)
}
