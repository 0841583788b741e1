package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deadswitch/backend/internal/domain"
	"deadswitch/backend/internal/sharing"
	"deadswitch/backend/internal/storage/memory"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// MockPusher 模拟通知通道
type MockPusher struct {
	mock.Mock
}

func (m *MockPusher) Push(ctx context.Context, user *domain.User, n domain.Notification) error {
	args := m.Called(user.ID, n.Tag)
	return args.Error(0)
}

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.CreateUser(ctx, &domain.User{ID: "owner@example.com", LastSeen: t0}))
	require.NoError(t, store.CreateUser(ctx, &domain.User{
		ID:           "recipient@example.com",
		LastSeen:     t0,
		Subscription: domain.Subscription{Endpoint: "https://push.example.com/r", Keys: domain.PushKeys{P256dh: "p", Auth: "a"}},
	}))
	require.NoError(t, store.CreateUser(ctx, &domain.User{ID: "lurker@example.com", LastSeen: t0}))
	return store
}

func systemShare(t *testing.T) string {
	t.Helper()
	shares, err := sharing.Split([]byte("correct horse battery staple"), 3, 2)
	require.NoError(t, err)
	return shares[2]
}

func newMessageService(store *memory.Store, rules MessageRules) *MessageService {
	svc := NewMessageService(store, store, rules, zap.NewNop())
	svc.now = func() time.Time { return t0 }
	return svc
}

func TestMessageService_Create(t *testing.T) {
	ctx := context.Background()
	rules := MessageRules{MinInterval: time.Minute, RequireRecipientSubscription: true}
	valid := func(t *testing.T) domain.CreateMessageRequest {
		return domain.CreateMessageRequest{
			Recipient:             "Recipient@Example.com",
			SystemShare:           systemShare(t),
			VerifyEveryMinutes:    60,
			MaxFailedVerification: 3,
		}
	}

	t.Run("创建成功", func(t *testing.T) {
		store := newStore(t)
		svc := newMessageService(store, rules)

		view, err := svc.Create(ctx, "owner@example.com", valid(t))
		require.NoError(t, err)
		assert.Equal(t, "recipient@example.com", view.Recipient)
		assert.Equal(t, domain.StateActive, view.State)
		require.NotNil(t, view.NextCheckAt)
		assert.True(t, view.NextCheckAt.Equal(t0.Add(time.Hour)))
		assert.NotEmpty(t, view.SystemShare)

		got, err := store.GetMessage(ctx, view.ID)
		require.NoError(t, err)
		assert.True(t, got.OwnerLastSeen.Equal(t0))
	})

	cases := []struct {
		name   string
		owner  string
		modify func(r *domain.CreateMessageRequest)
		rules  MessageRules
		err    error
	}{
		{
			name:   "留给自己",
			owner:  "recipient@example.com",
			modify: func(r *domain.CreateMessageRequest) {},
			rules:  rules,
			err:    ErrSelfRecipient,
		},
		{
			name:   "接收人未注册",
			owner:  "owner@example.com",
			modify: func(r *domain.CreateMessageRequest) { r.Recipient = "ghost@example.com" },
			rules:  rules,
			err:    domain.ErrNotFound,
		},
		{
			name:   "接收人未订阅",
			owner:  "owner@example.com",
			modify: func(r *domain.CreateMessageRequest) { r.Recipient = "lurker@example.com" },
			rules:  rules,
			err:    ErrRecipientNotSubscribed,
		},
		{
			name:   "检测周期短于调度周期",
			owner:  "owner@example.com",
			modify: func(r *domain.CreateMessageRequest) { r.VerifyEveryMinutes = 5 },
			rules:  MessageRules{MinInterval: 10 * time.Minute},
			err:    ErrPeriodTooShort,
		},
		{
			name:   "分片格式错误",
			owner:  "owner@example.com",
			modify: func(r *domain.CreateMessageRequest) { r.SystemShare = "not-a-share" },
			rules:  rules,
			err:    domain.ErrInvalidParameters,
		},
		{
			name:   "失败上限越界",
			owner:  "owner@example.com",
			modify: func(r *domain.CreateMessageRequest) { r.MaxFailedVerification = 10 },
			rules:  rules,
			err:    domain.ErrInvalidParameters,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newMessageService(newStore(t), tc.rules)
			req := valid(t)
			tc.modify(&req)
			_, err := svc.Create(ctx, tc.owner, req)
			assert.ErrorIs(t, err, tc.err)
		})
	}

	t.Run("不要求订阅时允许", func(t *testing.T) {
		svc := newMessageService(newStore(t), MessageRules{MinInterval: time.Minute})
		req := valid(t)
		req.Recipient = "lurker@example.com"
		_, err := svc.Create(ctx, "owner@example.com", req)
		assert.NoError(t, err)
	})

	t.Run("接受 secrets.js 客户端生成的分片", func(t *testing.T) {
		store := newStore(t)
		svc := newMessageService(store, rules)
		shares, err := sharing.SplitSecretsJS(sharing.EncodeUTF16("the vault code is 1234"), 3, 2)
		require.NoError(t, err)

		req := valid(t)
		req.SystemShare = shares[1]
		view, err := svc.Create(ctx, "owner@example.com", req)
		require.NoError(t, err)

		got, err := store.GetMessage(ctx, view.ID)
		require.NoError(t, err)
		text, err := sharing.CombineText([]string{shares[0], got.SystemShare})
		require.NoError(t, err)
		assert.Equal(t, "the vault code is 1234", text)
	})
}

func TestMessageService_Views(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := newMessageService(store, MessageRules{MinInterval: time.Minute})

	view, err := svc.Create(ctx, "owner@example.com", domain.CreateMessageRequest{
		Recipient:             "recipient@example.com",
		SystemShare:           systemShare(t),
		VerifyEveryMinutes:    60,
		MaxFailedVerification: 3,
	})
	require.NoError(t, err)

	owned, err := svc.ListOwned(ctx, "owner@example.com")
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.NotEmpty(t, owned[0].SystemShare)

	received, err := svc.ListReceived(ctx, "recipient@example.com")
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Empty(t, received[0].SystemShare, "share hidden until release")
	assert.Nil(t, received[0].NextCheckAt)

	_, err = svc.Get(ctx, view.ID, "lurker@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	revealedAt := t0.Add(3 * time.Hour)
	_, err = store.UpdateMessage(ctx, view.ID, func(m *domain.Message) error {
		m.ConsecutiveFailures = 3
		m.Revealed = true
		m.RevealedAt = &revealedAt
		return nil
	})
	require.NoError(t, err)

	got, err := svc.Get(ctx, view.ID, "recipient@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, got.SystemShare)
	assert.Equal(t, domain.StateReleased, got.State)
}

func TestMessageService_Delete(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := newMessageService(store, MessageRules{MinInterval: time.Minute})

	view, err := svc.Create(ctx, "owner@example.com", domain.CreateMessageRequest{
		Recipient:             "recipient@example.com",
		SystemShare:           systemShare(t),
		VerifyEveryMinutes:    60,
		MaxFailedVerification: 3,
	})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, view.ID, "recipient@example.com"), domain.ErrForbidden)
	assert.ErrorIs(t, svc.Delete(ctx, view.ID, "lurker@example.com"), domain.ErrForbidden)
	require.NoError(t, svc.Delete(ctx, view.ID, "owner@example.com"))
	assert.ErrorIs(t, svc.Delete(ctx, view.ID, "owner@example.com"), domain.ErrNotFound)
}

func TestActivityService_RecordActivity(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := NewActivityService(store, store, new(MockPusher), zap.NewNop())

	sent := t0.Add(2 * time.Hour)
	for _, m := range []*domain.Message{
		{ID: "at-risk", Owner: "owner@example.com", Recipient: "recipient@example.com", SystemShare: "s",
			VerifyEveryMinutes: 60, MaxFailedVerification: 3, ConsecutiveFailures: 2,
			OwnerLastSeen: t0, LastPingSentAt: &sent, CreatedTS: t0},
		{ID: "released", Owner: "owner@example.com", Recipient: "recipient@example.com", SystemShare: "s",
			VerifyEveryMinutes: 60, MaxFailedVerification: 1, ConsecutiveFailures: 1, Revealed: true,
			OwnerLastSeen: t0, CreatedTS: t0.Add(time.Second)},
	} {
		_, err := store.CreateMessage(ctx, m)
		require.NoError(t, err)
	}

	now := t0.Add(150 * time.Minute)
	svc.now = func() time.Time { return now }
	require.NoError(t, svc.RecordActivity(ctx, "owner@example.com"))

	m, err := store.GetMessage(ctx, "at-risk")
	require.NoError(t, err)
	assert.Zero(t, m.ConsecutiveFailures)
	assert.True(t, m.OwnerLastSeen.Equal(now))
	assert.Equal(t, domain.StateActive, m.State())

	m, err = store.GetMessage(ctx, "released")
	require.NoError(t, err)
	assert.True(t, m.Revealed)
	assert.Equal(t, 1, m.ConsecutiveFailures)

	user, err := store.GetUser(ctx, "owner@example.com")
	require.NoError(t, err)
	assert.True(t, user.LastSeen.Equal(now))

	require.NoError(t, svc.RecordActivity(ctx, "recipient@example.com"))
	m, err = store.GetMessage(ctx, "at-risk")
	require.NoError(t, err)
	assert.True(t, m.RecipientLastSeen.Equal(now))
	assert.Zero(t, m.ConsecutiveFailures)
}

func TestActivityService_Subscription(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := NewActivityService(store, store, new(MockPusher), zap.NewNop())

	err := svc.Subscribe(ctx, "owner@example.com", domain.Subscription{Endpoint: "https://push.example.com/o"})
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)

	sub := domain.Subscription{Endpoint: "https://push.example.com/o", Keys: domain.PushKeys{P256dh: "p", Auth: "a"}}
	require.NoError(t, svc.Subscribe(ctx, "owner@example.com", sub))
	user, err := store.GetUser(ctx, "owner@example.com")
	require.NoError(t, err)
	assert.Equal(t, sub, user.Subscription)

	require.NoError(t, svc.Unsubscribe(ctx, "owner@example.com"))
	user, err = store.GetUser(ctx, "owner@example.com")
	require.NoError(t, err)
	assert.False(t, user.HasSubscription())
}

func TestActivityService_TestNotification(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	pusher := new(MockPusher)
	pusher.On("Push", "owner@example.com", domain.TagTest).Return(nil).Once()
	pusher.On("Push", "recipient@example.com", domain.TagTest).Return(domain.ErrNoSubscription).Once()
	svc := NewActivityService(store, store, pusher, zap.NewNop())

	require.NoError(t, svc.TestNotification(ctx, "owner@example.com", ""))
	assert.ErrorIs(t, svc.TestNotification(ctx, "owner@example.com", "recipient@example.com"), domain.ErrDeliveryFailed)
	assert.ErrorIs(t, svc.TestNotification(ctx, "owner@example.com", "ghost@example.com"), domain.ErrNotFound)
	pusher.AssertExpectations(t)
}
