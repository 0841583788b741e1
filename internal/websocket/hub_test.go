package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deadswitch/backend/internal/auth/jwt"
	"deadswitch/backend/internal/domain"
)

func setupHub(t *testing.T) (*Hub, *jwt.Manager, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens := jwt.NewManager(strings.Repeat("s", 32), "test", time.Minute, time.Hour)
	hub := NewHub(nil, tokens, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", HandleWebSocket(hub))
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, tokens, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, tokens *jwt.Manager, url, identity string) *websocket.Conn {
	t.Helper()
	pair, err := tokens.GenerateTokenPair(identity)
	require.NoError(t, err)

	conn, resp, err := websocket.DefaultDialer.Dial(url+"?token="+pair.AccessToken, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_Push(t *testing.T) {
	hub, tokens, url := setupHub(t)
	conn := dial(t, tokens, url, "owner@example.com")

	require.Eventually(t, func() bool { return hub.Connected("owner@example.com") == 1 },
		time.Second, 10*time.Millisecond)

	user := &domain.User{ID: "owner@example.com"}
	require.NoError(t, hub.Push(context.Background(), user, domain.OwnerPingNotification("m1")))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypeNotification, msg.Type)
	require.NotNil(t, msg.Notification)
	assert.Equal(t, domain.TagOwnerPing, msg.Notification.Tag)
	assert.Equal(t, "m1", msg.Notification.MessageID)

	err := hub.Push(context.Background(), &domain.User{ID: "other@example.com"}, domain.OwnerPingNotification("m1"))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, err, domain.ErrDeliveryFailed)
}

func TestHub_PingPong(t *testing.T) {
	hub, tokens, url := setupHub(t)
	conn := dial(t, tokens, url, "owner@example.com")
	require.Eventually(t, func() bool { return hub.Connected("owner@example.com") == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(&Message{Type: MessageTypePing}))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypePong, msg.Type)
}

func TestHub_Unregister(t *testing.T) {
	hub, tokens, url := setupHub(t)
	conn := dial(t, tokens, url, "owner@example.com")
	require.Eventually(t, func() bool { return hub.Connected("owner@example.com") == 1 },
		time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Connected("owner@example.com") == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestHandleWebSocket_Unauthorized(t *testing.T) {
	_, _, url := setupHub(t)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
