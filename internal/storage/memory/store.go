package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"deadswitch/backend/internal/domain"
	"deadswitch/backend/internal/storage"
)

// Journal 在每次写入提交前被调用，返回错误会中止本次写入。
// 文件系统存储通过它实现持久化。
type Journal interface {
	SaveMessage(msg *domain.Message) error
	RemoveMessage(id string) error
	SaveUser(user *domain.User) error
}

// Option 配置项
type Option func(*Store)

// WithJournal 设置写入日志
func WithJournal(j Journal) Option {
	return func(s *Store) {
		s.journal = j
	}
}

// Store 使用内存保存消息与用户数据，主要用于开发验证和测试。
type Store struct {
	mu          sync.RWMutex
	messages    map[string]*domain.Message     // messageID -> message
	byOwner     map[string]map[string]struct{} // owner -> messageIDs
	byRecipient map[string]map[string]struct{} // recipient -> messageIDs
	users       map[string]*domain.User        // userID -> user
	journal     Journal
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建一个内存存储实例。
func NewStore(opts ...Option) *Store {
	s := &Store{
		messages:    make(map[string]*domain.Message),
		byOwner:     make(map[string]map[string]struct{}),
		byRecipient: make(map[string]map[string]struct{}),
		users:       make(map[string]*domain.User),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore 载入已有数据，不经过 Journal。
func (s *Store) Restore(messages []*domain.Message, users []*domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range messages {
		s.putMessageLocked(m.Clone())
	}
	for _, u := range users {
		s.users[u.ID] = u.Clone()
	}
}

// ========== 消息 ==========

// CreateMessage 保存新消息
func (s *Store) CreateMessage(_ context.Context, msg *domain.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := msg.Clone()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if _, exists := s.messages[m.ID]; exists {
		return "", domain.ErrDuplicate
	}
	if s.journal != nil {
		if err := s.journal.SaveMessage(m); err != nil {
			return "", err
		}
	}
	s.putMessageLocked(m)
	return m.ID, nil
}

// GetMessage 根据 ID 获取消息
func (s *Store) GetMessage(_ context.Context, id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	return m.Clone(), nil
}

// ListByOwner 列出 owner 创建的消息
func (s *Store) ListByOwner(_ context.Context, owner string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.byOwner[owner]), nil
}

// ListByRecipient 列出发给 recipient 的消息
func (s *Store) ListByRecipient(_ context.Context, recipient string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.byRecipient[recipient]), nil
}

// DueForCheck 返回已到期的未释放消息
func (s *Store) DueForCheck(_ context.Context, now time.Time) ([]domain.Message, error) {
	return s.filter(func(m *domain.Message) bool { return m.IsDue(now) }), nil
}

// ListRevealed 返回已释放的消息
func (s *Store) ListRevealed(_ context.Context) ([]domain.Message, error) {
	return s.filter(func(m *domain.Message) bool { return m.Revealed }), nil
}

// ListPingRetries 返回需要重新投递 ping 的消息
func (s *Store) ListPingRetries(_ context.Context, maxAttempts int) ([]domain.Message, error) {
	return s.filter(func(m *domain.Message) bool { return m.NeedsPingRetry(maxAttempts) }), nil
}

// UpdateMessage 原子更新消息
func (s *Store) UpdateMessage(_ context.Context, id string, fn storage.Mutation) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.messages[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	next, err := domain.ApplyMutation(cur, fn)
	if err != nil {
		return nil, err
	}
	if s.journal != nil {
		if err := s.journal.SaveMessage(next); err != nil {
			return nil, err
		}
	}
	s.messages[id] = next
	return next.Clone(), nil
}

// DeleteMessage 删除消息
func (s *Store) DeleteMessage(_ context.Context, id, requester string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return domain.ErrMessageNotFound
	}
	if !storage.CanDelete(m, requester) {
		return domain.ErrForbidden
	}
	if s.journal != nil {
		if err := s.journal.RemoveMessage(id); err != nil {
			return err
		}
	}
	delete(s.messages, id)
	removeIndex(s.byOwner, m.Owner, id)
	removeIndex(s.byRecipient, m.Recipient, id)
	return nil
}

// ========== 用户 ==========

// CreateUser 创建用户
func (s *Store) CreateUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; exists {
		return domain.ErrUserExists
	}
	u := user.Clone()
	if s.journal != nil {
		if err := s.journal.SaveUser(u); err != nil {
			return err
		}
	}
	s.users[u.ID] = u
	return nil
}

// GetUser 获取用户
func (s *Store) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return u.Clone(), nil
}

// TouchUser 刷新最近活动时间
func (s *Store) TouchUser(_ context.Context, id string, at time.Time) error {
	return s.updateUser(id, func(u *domain.User) {
		if at.After(u.LastSeen) {
			u.LastSeen = at
		}
		u.UpdatedAt = at
	})
}

// SetSubscription 设置推送订阅
func (s *Store) SetSubscription(_ context.Context, id string, sub domain.Subscription) error {
	return s.updateUser(id, func(u *domain.User) {
		u.Subscription = sub
		u.UpdatedAt = time.Now().UTC()
	})
}

// Health 内存存储始终可用
func (s *Store) Health(context.Context) error {
	return nil
}

// Close 无需释放资源
func (s *Store) Close() error {
	return nil
}

func (s *Store) updateUser(id string, fn func(u *domain.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u := cur.Clone()
	fn(u)
	if s.journal != nil {
		if err := s.journal.SaveUser(u); err != nil {
			return err
		}
	}
	s.users[id] = u
	return nil
}

func (s *Store) putMessageLocked(m *domain.Message) {
	s.messages[m.ID] = m
	addIndex(s.byOwner, m.Owner, m.ID)
	addIndex(s.byRecipient, m.Recipient, m.ID)
}

func (s *Store) collectLocked(ids map[string]struct{}) []domain.Message {
	out := make([]domain.Message, 0, len(ids))
	for id := range ids {
		if m, ok := s.messages[id]; ok {
			out = append(out, *m.Clone())
		}
	}
	sortMessages(out)
	return out
}

func (s *Store) filter(keep func(m *domain.Message) bool) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Message, 0)
	for _, m := range s.messages {
		if keep(m) {
			out = append(out, *m.Clone())
		}
	}
	sortMessages(out)
	return out
}

func sortMessages(msgs []domain.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].CreatedTS.Equal(msgs[j].CreatedTS) {
			return msgs[i].CreatedTS.Before(msgs[j].CreatedTS)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

func addIndex(idx map[string]map[string]struct{}, key, id string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

func removeIndex(idx map[string]map[string]struct{}, key, id string) {
	if set, ok := idx[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(idx, key)
		}
	}
}
