package storage

import (
	"context"
	"time"

	"deadswitch/backend/internal/domain"
)

// Mutation 在原子更新中修改消息。返回错误时更新被放弃，错误原样返回给调用方。
type Mutation func(m *domain.Message) error

// MessageRepository 定义消息数据存取操作。
//
// 列表结果按 CreatedTS 升序排列，ID 作为次序键。
type MessageRepository interface {
	// CreateMessage 保存新消息，ID 为空时自动生成
	CreateMessage(ctx context.Context, msg *domain.Message) (string, error)
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	ListByOwner(ctx context.Context, owner string) ([]domain.Message, error)
	ListByRecipient(ctx context.Context, recipient string) ([]domain.Message, error)
	// DueForCheck 返回在 now 时刻已到检测截止时间且未释放的消息
	DueForCheck(ctx context.Context, now time.Time) ([]domain.Message, error)
	// ListRevealed 返回全部已释放的消息
	ListRevealed(ctx context.Context) ([]domain.Message, error)
	// ListPingRetries 返回最近一次 ping 未送达、所有者此后未登录且投递次数小于 maxAttempts 的消息
	ListPingRetries(ctx context.Context, maxAttempts int) ([]domain.Message, error)
	// UpdateMessage 以读-改-写方式原子更新单条消息
	UpdateMessage(ctx context.Context, id string, fn Mutation) (*domain.Message, error)
	// DeleteMessage 删除消息。所有者随时可删，接收人仅在释放后可删。
	DeleteMessage(ctx context.Context, id, requester string) error
}

// UserRepository 定义用户数据存取操作。
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	// TouchUser 刷新用户最近活动时间
	TouchUser(ctx context.Context, id string, at time.Time) error
	// SetSubscription 设置推送订阅，传入零值即取消订阅
	SetSubscription(ctx context.Context, id string, sub domain.Subscription) error
}

// Store 组合消息与用户存储。
type Store interface {
	MessageRepository
	UserRepository
	Health(ctx context.Context) error
	Close() error
}

// Locker 跨进程互斥锁，用于保证同一时刻只有一个 tick 在执行。
type Locker interface {
	// TryLock 尝试获取锁，获取失败时 ok 为 false。
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool, err error)
}

// CanDelete 判断 requester 是否有权删除消息
func CanDelete(m *domain.Message, requester string) bool {
	if requester == m.Owner {
		return true
	}
	return requester == m.Recipient && m.Revealed
}
