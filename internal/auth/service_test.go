package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deadswitch/backend/internal/domain"
	"deadswitch/backend/internal/storage/memory"
)

type activityStub struct {
	calls []string
	err   error
}

func (a *activityStub) RecordActivity(_ context.Context, identity string) error {
	a.calls = append(a.calls, identity)
	return a.err
}

func newTestService(block bool) (*Service, *memory.Store, *activityStub) {
	store := memory.NewStore()
	activity := &activityStub{}
	return NewService(store, testJWTManager(), activity, block, zap.NewNop()), store, activity
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("注册成功", func(t *testing.T) {
		svc, store, _ := newTestService(false)

		resp, err := svc.Register(ctx, Credentials{Identity: " Owner@Example.com ", Password: "Password123!"})
		require.NoError(t, err)
		assert.Equal(t, "owner@example.com", resp.User.ID)
		assert.NotEmpty(t, resp.AccessToken)
		assert.NotEmpty(t, resp.RefreshToken)

		user, err := store.GetUser(ctx, "owner@example.com")
		require.NoError(t, err)
		assert.True(t, CheckPassword("Password123!", user.PasswordHash))
		assert.False(t, user.LastSeen.IsZero())
	})

	t.Run("重复注册", func(t *testing.T) {
		svc, _, _ := newTestService(false)
		_, err := svc.Register(ctx, Credentials{Identity: "owner@example.com", Password: "Password123!"})
		require.NoError(t, err)

		_, err = svc.Register(ctx, Credentials{Identity: "OWNER@example.com", Password: "Password123!"})
		assert.ErrorIs(t, err, domain.ErrDuplicate)
	})

	t.Run("参数无效", func(t *testing.T) {
		svc, _, _ := newTestService(false)
		_, err := svc.Register(ctx, Credentials{Identity: "not an email", Password: "Password123!"})
		assert.ErrorIs(t, err, domain.ErrInvalidParameters)

		_, err = svc.Register(ctx, Credentials{Identity: "owner@example.com", Password: "short"})
		assert.ErrorIs(t, err, domain.ErrInvalidParameters)
	})

	t.Run("注册已关闭", func(t *testing.T) {
		svc, _, _ := newTestService(true)
		_, err := svc.Register(ctx, Credentials{Identity: "owner@example.com", Password: "Password123!"})
		assert.ErrorIs(t, err, ErrRegistrationClosed)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()
	svc, _, activity := newTestService(false)
	_, err := svc.Register(ctx, Credentials{Identity: "owner@example.com", Password: "Password123!"})
	require.NoError(t, err)

	t.Run("登录成功并记录活动", func(t *testing.T) {
		resp, err := svc.Login(ctx, Credentials{Identity: "Owner@example.com", Password: "Password123!"})
		require.NoError(t, err)
		assert.Equal(t, "owner@example.com", resp.User.ID)
		assert.Equal(t, []string{"owner@example.com"}, activity.calls)
	})

	t.Run("密码错误", func(t *testing.T) {
		_, err := svc.Login(ctx, Credentials{Identity: "owner@example.com", Password: "WrongPassword"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("用户不存在", func(t *testing.T) {
		_, err := svc.Login(ctx, Credentials{Identity: "ghost@example.com", Password: "Password123!"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("活动记录失败", func(t *testing.T) {
		activity.err = errors.New("store down")
		defer func() { activity.err = nil }()
		_, err := svc.Login(ctx, Credentials{Identity: "owner@example.com", Password: "Password123!"})
		assert.Error(t, err)
	})
}

func TestService_Refresh(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(false)
	resp, err := svc.Register(ctx, Credentials{Identity: "owner@example.com", Password: "Password123!"})
	require.NoError(t, err)

	tokens, err := svc.Refresh(resp.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)

	_, err = svc.Refresh(resp.AccessToken)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
