package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deadswitch/backend/internal/storage/storagetest"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewWithClient(rdb, "", nil), mr
}

func TestClient_MessageCache(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)

	_, err := c.GetCachedMessage(ctx, "m-1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	msg := storagetest.NewMessage("m-1", "a@example.com", "b@example.com", storagetest.Base)
	cached, err := c.CacheMessageIfVersion(ctx, msg, time.Minute, 0)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.True(t, mr.Exists("deadswitch:message:m-1"))

	got, err := c.GetCachedMessage(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, msg.Owner, got.Owner)
	assert.True(t, got.CreatedTS.Equal(msg.CreatedTS))

	mr.FastForward(2 * time.Minute)
	_, err = c.GetCachedMessage(ctx, "m-1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	_, err = c.CacheMessageIfVersion(ctx, msg, time.Minute, 0)
	require.NoError(t, err)
	require.NoError(t, c.InvalidateMessage(ctx, "m-1"))
	_, err = c.GetCachedMessage(ctx, "m-1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestClient_CacheMessageIfVersion(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	msg := storagetest.NewMessage("m-1", "a@example.com", "b@example.com", storagetest.Base)

	version, err := c.MessageVersion(ctx, "m-1")
	require.NoError(t, err)
	assert.Zero(t, version)

	// 读取数据库期间发生了失效，旧数据不能回填
	require.NoError(t, c.InvalidateMessage(ctx, "m-1"))
	cached, err := c.CacheMessageIfVersion(ctx, msg, time.Minute, version)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.False(t, mr.Exists("deadswitch:message:m-1"))

	version, err = c.MessageVersion(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.True(t, mr.TTL("deadswitch:message:m-1:version") > 0)

	cached, err = c.CacheMessageIfVersion(ctx, msg, time.Minute, version)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.True(t, mr.Exists("deadswitch:message:m-1"))
}

func TestClient_TryLock(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)

	unlock, ok, err := c.TryLock(ctx, "tick", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.TryLock(ctx, "tick", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	unlock()
	assert.False(t, mr.Exists("deadswitch:lock:tick"))

	t.Run("过期后旧持有者不能释放新锁", func(t *testing.T) {
		stale, ok, err := c.TryLock(ctx, "tick", time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		mr.FastForward(2 * time.Second)
		_, ok, err = c.TryLock(ctx, "tick", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		stale()
		assert.True(t, mr.Exists("deadswitch:lock:tick"))
	})
}

func TestClient_Ping(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	c := NewWithClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1}), "", nil)
	defer c.Close()

	require.NoError(t, c.Ping(context.Background()))

	mr.Close()
	assert.Error(t, c.Ping(context.Background()))
}
