package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deadswitch/backend/internal/auth"
	"deadswitch/backend/internal/config"
	"deadswitch/backend/internal/domain"
	"deadswitch/backend/internal/liveness"
	"deadswitch/backend/internal/monitoring"
	"deadswitch/backend/internal/notify"
	"deadswitch/backend/internal/service"
	"deadswitch/backend/internal/sharing"
	"deadswitch/backend/internal/storage/memory"
)

const testPassword = "correct-horse-battery"

type tickerStub struct {
	report liveness.TickReport
	err    error
	calls  int
}

func (t *tickerStub) Tick(context.Context) (liveness.TickReport, error) {
	t.calls++
	return t.report, t.err
}

type testServer struct {
	router *gin.Engine
	ticker *tickerStub
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	cfg := &config.Config{
		JWT: config.JWTConfig{
			Secret:        strings.Repeat("s", 32),
			Issuer:        "deadswitch-test",
			AccessExpiry:  15 * time.Minute,
			RefreshExpiry: time.Hour,
		},
		Scheduler: config.SchedulerConfig{Interval: time.Minute},
	}
	if mutate != nil {
		mutate(cfg)
	}

	log := zap.NewNop()
	store := memory.NewStore()
	tokens := auth.NewJWTManager(&cfg.JWT)
	pusher := notify.PusherFunc(func(_ context.Context, user *domain.User, _ domain.Notification) error {
		if !user.HasSubscription() {
			return domain.ErrNoSubscription
		}
		return nil
	})
	activity := service.NewActivityService(store, store, pusher, log)
	messages := service.NewMessageService(store, store, service.MessageRules{
		MinInterval:                  cfg.Scheduler.Interval,
		RequireRecipientSubscription: true,
	}, log)
	ticker := &tickerStub{}

	router := NewRouter(RouterDependencies{
		Config:          cfg,
		AuthService:     auth.NewService(store, tokens, activity, cfg.Registration.Block, log),
		MessageService:  messages,
		ActivityService: activity,
		Ticker:          ticker,
		JWTManager:      tokens.Manager(),
		Metrics:         monitoring.NewMetrics(),
		Logger:          log,
	})
	return &testServer{router: router, ticker: ticker}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var resp Response
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	}
	return rec, resp
}

// register 注册用户并返回访问令牌
func (s *testServer) register(t *testing.T, identity string) string {
	t.Helper()
	rec, resp := s.do(t, http.MethodPost, "/v1/auth/register", "", auth.Credentials{
		Identity: identity,
		Password: testPassword,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	data := resp.Data.(map[string]interface{})
	return data["access_token"].(string)
}

func (s *testServer) subscribe(t *testing.T, token string) {
	t.Helper()
	rec, _ := s.do(t, http.MethodPut, "/v1/subscription", token, domain.Subscription{
		Endpoint: "https://push.example.com/endpoint",
		Keys:     domain.PushKeys{P256dh: "p256dh", Auth: "auth"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func systemShare(t *testing.T) string {
	t.Helper()
	shares, err := sharing.Split([]byte("the vault code is 1234"), 3, 2)
	require.NoError(t, err)
	return shares[2]
}

func TestMessageLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	ownerToken := srv.register(t, "owner@example.com")
	heirToken := srv.register(t, "heir@example.com")
	share := systemShare(t)

	t.Run("接收人未订阅时拒绝创建", func(t *testing.T) {
		rec, _ := srv.do(t, http.MethodPost, "/v1/messages", ownerToken, domain.CreateMessageRequest{
			Recipient:             "heir@example.com",
			SystemShare:           share,
			VerifyEveryMinutes:    60,
			MaxFailedVerification: 3,
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	srv.subscribe(t, heirToken)

	rec, resp := srv.do(t, http.MethodPost, "/v1/messages", ownerToken, domain.CreateMessageRequest{
		Recipient:             "heir@example.com",
		SystemShare:           share,
		VerifyEveryMinutes:    60,
		MaxFailedVerification: 3,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := resp.Data.(map[string]interface{})
	id := created["id"].(string)
	assert.Equal(t, share, created["system_share"])
	assert.Equal(t, string(domain.StateActive), created["state"])

	t.Run("所有者可见分片", func(t *testing.T) {
		rec, resp := srv.do(t, http.MethodGet, "/v1/messages/"+id, ownerToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, share, resp.Data.(map[string]interface{})["system_share"])
	})

	t.Run("接收人在释放前看不到分片", func(t *testing.T) {
		rec, resp := srv.do(t, http.MethodGet, "/v1/messages/received", heirToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		list := resp.Data.([]interface{})
		require.Len(t, list, 1)
		_, hasShare := list[0].(map[string]interface{})["system_share"]
		assert.False(t, hasShare)
	})

	t.Run("接收人在释放前不能删除", func(t *testing.T) {
		rec, _ := srv.do(t, http.MethodDelete, "/v1/messages/"+id, heirToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("陌生人看不到消息", func(t *testing.T) {
		strangerToken := srv.register(t, "stranger@example.com")
		rec, _ := srv.do(t, http.MethodGet, "/v1/messages/"+id, strangerToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("所有者删除", func(t *testing.T) {
		rec, _ := srv.do(t, http.MethodDelete, "/v1/messages/"+id, ownerToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec, resp := srv.do(t, http.MethodGet, "/v1/messages", ownerToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, resp.Data)
	})
}

func TestCreateMessageErrors(t *testing.T) {
	srv := newTestServer(t, nil)
	ownerToken := srv.register(t, "owner@example.com")
	share := systemShare(t)

	tests := []struct {
		name   string
		req    domain.CreateMessageRequest
		status int
	}{
		{
			name:   "接收人是自己",
			req:    domain.CreateMessageRequest{Recipient: "owner@example.com", SystemShare: share, VerifyEveryMinutes: 60, MaxFailedVerification: 3},
			status: http.StatusForbidden,
		},
		{
			name:   "接收人未注册",
			req:    domain.CreateMessageRequest{Recipient: "ghost@example.com", SystemShare: share, VerifyEveryMinutes: 60, MaxFailedVerification: 3},
			status: http.StatusNotFound,
		},
		{
			name:   "分片无效",
			req:    domain.CreateMessageRequest{Recipient: "ghost@example.com", SystemShare: "not-a-share", VerifyEveryMinutes: 60, MaxFailedVerification: 3},
			status: http.StatusBadRequest,
		},
		{
			name:   "周期越界",
			req:    domain.CreateMessageRequest{Recipient: "ghost@example.com", SystemShare: share, VerifyEveryMinutes: 0, MaxFailedVerification: 3},
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := srv.do(t, http.MethodPost, "/v1/messages", ownerToken, tt.req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	t.Run("未登录", func(t *testing.T) {
		rec, _ := srv.do(t, http.MethodPost, "/v1/messages", "", tests[0].req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestAuthEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.register(t, "owner@example.com")

	t.Run("重复注册", func(t *testing.T) {
		rec, _ := srv.do(t, http.MethodPost, "/v1/auth/register", "", auth.Credentials{
			Identity: "Owner@Example.com",
			Password: testPassword,
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("密码错误", func(t *testing.T) {
		rec, _ := srv.do(t, http.MethodPost, "/v1/auth/login", "", auth.Credentials{
			Identity: "owner@example.com",
			Password: "wrong-password-123",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("登录并刷新", func(t *testing.T) {
		rec, resp := srv.do(t, http.MethodPost, "/v1/auth/login", "", auth.Credentials{
			Identity: "owner@example.com",
			Password: testPassword,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		refresh := resp.Data.(map[string]interface{})["refresh_token"].(string)

		rec, resp = srv.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": refresh})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, resp.Data.(map[string]interface{})["access_token"])
	})

	t.Run("注册已关闭", func(t *testing.T) {
		closed := newTestServer(t, func(cfg *config.Config) {
			cfg.Registration.Block = true
		})
		rec, _ := closed.do(t, http.MethodPost, "/v1/auth/register", "", auth.Credentials{
			Identity: "late@example.com",
			Password: testPassword,
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestTaskTick(t *testing.T) {
	t.Run("未配置令牌时关闭", func(t *testing.T) {
		srv := newTestServer(t, nil)
		rec, _ := srv.do(t, http.MethodPost, "/v1/tasks/tick", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Zero(t, srv.ticker.calls)
	})

	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Scheduler.TaskToken = "cron-secret"
	})

	t.Run("令牌错误", func(t *testing.T) {
		rec, _ := srv.do(t, http.MethodPost, "/v1/tasks/tick", "nope", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("执行一次", func(t *testing.T) {
		srv.ticker.report = liveness.TickReport{Due: 2, Checks: 2}
		rec, resp := srv.do(t, http.MethodPost, "/v1/tasks/tick", "cron-secret", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 2, resp.Data.(map[string]interface{})["due"])
		assert.Equal(t, 1, srv.ticker.calls)
	})

	t.Run("已有 tick 在运行", func(t *testing.T) {
		srv.ticker.err = liveness.ErrTickInProgress
		rec, _ := srv.do(t, http.MethodPost, "/v1/tasks/tick", "cron-secret", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestAccountEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	ownerToken := srv.register(t, "owner@example.com")

	t.Run("未订阅时测试通知失败", func(t *testing.T) {
		rec, _ := srv.do(t, http.MethodPost, "/v1/notifications/test", ownerToken, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("订阅缺少密钥", func(t *testing.T) {
		rec, _ := srv.do(t, http.MethodPut, "/v1/subscription", ownerToken, domain.Subscription{Endpoint: "https://push.example.com/x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("订阅后测试通知成功", func(t *testing.T) {
		srv.subscribe(t, ownerToken)
		rec, _ := srv.do(t, http.MethodPost, "/v1/notifications/test", ownerToken, nil)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("VAPID 公钥未配置", func(t *testing.T) {
		rec, _ := srv.do(t, http.MethodGet, "/v1/push/vapid-public-key", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("VAPID 公钥", func(t *testing.T) {
		withKey := newTestServer(t, func(cfg *config.Config) {
			cfg.Push.VAPIDPublicKey = "BPublicKey"
		})
		rec, resp := withKey.do(t, http.MethodGet, "/v1/push/vapid-public-key", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "BPublicKey", resp.Data.(map[string]interface{})["public_key"])
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: bad threshold", domain.ErrInvalidParameters), http.StatusBadRequest},
		{domain.ErrCombination, http.StatusBadRequest},
		{auth.ErrInvalidCredentials, http.StatusUnauthorized},
		{service.ErrSelfRecipient, http.StatusForbidden},
		{domain.ErrMessageNotFound, http.StatusNotFound},
		{domain.ErrUserExists, http.StatusConflict},
		{domain.ErrNoSubscription, http.StatusUnprocessableEntity},
		{notify.ErrSubscriptionGone, http.StatusBadGateway},
		{liveness.ErrTickInProgress, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, msg := StatusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.NotEmpty(t, msg)
	}

	_, msg := StatusFor(fmt.Errorf("%w: bad threshold", domain.ErrInvalidParameters))
	assert.Contains(t, msg, "bad threshold")
}

func TestRespondError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		err    error
		status int
		msg    string
	}{
		{domain.ErrUserExists, http.StatusConflict, "该身份已注册"},
		{errors.New("db down"), http.StatusInternalServerError, MsgInternalError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

		RespondError(c, zap.NewNop(), tt.err)

		require.Equal(t, tt.status, rec.Code)
		var resp Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, tt.status, resp.Code)
		assert.Equal(t, tt.msg, resp.Msg)
		assert.Nil(t, resp.Data)
		assert.NotContains(t, rec.Body.String(), "db down")
	}
}
