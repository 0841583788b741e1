package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"deadswitch/backend/internal/domain"
	"deadswitch/backend/internal/sharing"
	"deadswitch/backend/internal/storage"
)

var (
	// ErrSelfRecipient 所有者不能把消息留给自己
	ErrSelfRecipient = fmt.Errorf("recipient must differ from owner: %w", domain.ErrForbidden)
	// ErrPeriodTooShort 检测周期短于调度周期
	ErrPeriodTooShort = fmt.Errorf("verification period shorter than scheduler interval: %w", domain.ErrForbidden)
	// ErrRecipientUnknown 接收人未注册
	ErrRecipientUnknown = fmt.Errorf("recipient %w", domain.ErrNotFound)
	// ErrRecipientNotSubscribed 接收人未登记推送订阅
	ErrRecipientNotSubscribed = fmt.Errorf("recipient has no push subscription: %w", domain.ErrForbidden)
)

// MessageRules 创建消息时的业务规则
type MessageRules struct {
	// MinInterval 允许的最短检测周期，等于调度周期
	MinInterval time.Duration
	// RequireRecipientSubscription 要求接收人已登记推送订阅
	RequireRecipientSubscription bool
}

// MessageService 封装消息的创建、查询与删除。
type MessageService struct {
	messages storage.MessageRepository
	users    storage.UserRepository
	rules    MessageRules
	now      func() time.Time
	log      *zap.Logger
}

// NewMessageService 创建消息业务服务。
func NewMessageService(messages storage.MessageRepository, users storage.UserRepository, rules MessageRules, log *zap.Logger) *MessageService {
	return &MessageService{
		messages: messages,
		users:    users,
		rules:    rules,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
}

// Create 为 owner 新建一条消息。
//
// 返回值:
//   - *domain.MessageView: 所有者视图
//   - error: 参数错误为 ErrInvalidParameters，规则不满足为 ErrForbidden，
//     接收人不存在为 ErrNotFound
func (s *MessageService) Create(ctx context.Context, owner string, req domain.CreateMessageRequest) (*domain.MessageView, error) {
	owner = domain.NormalizeIdentity(owner)
	req.Recipient = domain.NormalizeIdentity(req.Recipient)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := sharing.Decode(req.SystemShare); err != nil {
		return nil, fmt.Errorf("%w: system_share: %v", domain.ErrInvalidParameters, err)
	}
	if req.Recipient == owner {
		return nil, ErrSelfRecipient
	}
	if time.Duration(req.VerifyEveryMinutes)*time.Minute < s.rules.MinInterval {
		return nil, ErrPeriodTooShort
	}

	recipient, err := s.users.GetUser(ctx, req.Recipient)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrRecipientUnknown
	}
	if err != nil {
		return nil, err
	}
	if s.rules.RequireRecipientSubscription && !recipient.HasSubscription() {
		return nil, ErrRecipientNotSubscribed
	}

	now := s.now()
	msg := &domain.Message{
		ID:                    uuid.NewString(),
		Owner:                 owner,
		Recipient:             recipient.ID,
		SystemShare:           req.SystemShare,
		VerifyEveryMinutes:    req.VerifyEveryMinutes,
		MaxFailedVerification: req.MaxFailedVerification,
		OwnerLastSeen:         now,
		RecipientLastSeen:     recipient.LastSeen,
		CreatedTS:             now,
	}
	if _, err := s.messages.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.log.Info("message created",
		zap.String("message_id", msg.ID),
		zap.String("owner", owner),
		zap.String("recipient", msg.Recipient),
		zap.Int("verify_every_minutes", msg.VerifyEveryMinutes),
		zap.Int("max_failed_verification", msg.MaxFailedVerification))

	view := msg.ViewFor(owner)
	return &view, nil
}

// Get 返回 viewer 可见的消息视图，非所有者也非接收人时返回 ErrNotFound
func (s *MessageService) Get(ctx context.Context, id, viewer string) (*domain.MessageView, error) {
	msg, err := s.messages.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if viewer != msg.Owner && viewer != msg.Recipient {
		return nil, domain.ErrMessageNotFound
	}
	view := msg.ViewFor(viewer)
	return &view, nil
}

// ListOwned 列出 owner 创建的消息
func (s *MessageService) ListOwned(ctx context.Context, owner string) ([]domain.MessageView, error) {
	msgs, err := s.messages.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	return views(msgs, owner), nil
}

// ListReceived 列出留给 recipient 的消息，未释放的不含分片
func (s *MessageService) ListReceived(ctx context.Context, recipient string) ([]domain.MessageView, error) {
	msgs, err := s.messages.ListByRecipient(ctx, recipient)
	if err != nil {
		return nil, err
	}
	return views(msgs, recipient), nil
}

// Delete 删除消息。所有者随时可删，接收人仅在释放后可删。
func (s *MessageService) Delete(ctx context.Context, id, requester string) error {
	if err := s.messages.DeleteMessage(ctx, id, requester); err != nil {
		return err
	}
	s.log.Info("message deleted",
		zap.String("message_id", id),
		zap.String("requester", requester))
	return nil
}

func views(msgs []domain.Message, viewer string) []domain.MessageView {
	out := make([]domain.MessageView, 0, len(msgs))
	for i := range msgs {
		out = append(out, msgs[i].ViewFor(viewer))
	}
	return out
}
