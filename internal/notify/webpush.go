package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"deadswitch/backend/internal/config"
	"deadswitch/backend/internal/domain"
)

// ErrSubscriptionGone 推送服务报告订阅已失效（404/410）
var ErrSubscriptionGone = fmt.Errorf("%w: subscription expired", domain.ErrDeliveryFailed)

// WebPusher 通过 VAPID 签名的 Web Push 投递通知
type WebPusher struct {
	cfg    config.PushConfig
	client webpush.HTTPClient
	log    *zap.Logger
}

// NewWebPusher 创建 Web Push 通道
//
// 参数:
//   - cfg: VAPID 密钥与联系方式
//   - client: HTTP 客户端，为 nil 时使用 10 秒超时的默认客户端
//   - log: 日志记录器
func NewWebPusher(cfg config.PushConfig, client webpush.HTTPClient, log *zap.Logger) *WebPusher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebPusher{cfg: cfg, client: client, log: log}
}

// Push 加密并发送通知
func (p *WebPusher) Push(ctx context.Context, user *domain.User, n domain.Notification) error {
	if !user.HasSubscription() {
		return domain.ErrNoSubscription
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	sub := &webpush.Subscription{
		Endpoint: user.Subscription.Endpoint,
		Keys: webpush.Keys{
			P256dh: user.Subscription.Keys.P256dh,
			Auth:   user.Subscription.Keys.Auth,
		},
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, sub, &webpush.Options{
		HTTPClient:      p.client,
		Subscriber:      p.cfg.Subscriber,
		VAPIDPublicKey:  p.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: p.cfg.VAPIDPrivateKey,
		TTL:             int(p.cfg.TTL.Seconds()),
		Urgency:         webpush.UrgencyHigh,
		Topic:           string(n.Tag),
	})
	if err != nil {
		return deliveryError("webpush", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		p.log.Warn("push subscription expired",
			zap.String("user", user.ID),
			zap.Int("status", resp.StatusCode))
		return ErrSubscriptionGone
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: webpush: status %d", domain.ErrDeliveryFailed, resp.StatusCode)
	}

	p.log.Debug("push delivered",
		zap.String("user", user.ID),
		zap.String("tag", string(n.Tag)))
	return nil
}

// GenerateVAPIDKeys 生成一对新的 VAPID 密钥
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	return publicKey, privateKey, err
}
