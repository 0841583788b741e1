package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"deadswitch/backend/internal/domain"
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("cache miss")

// 版本键需要比任何一次数据库读取活得更久
const versionTTL = 24 * time.Hour

// backfillScript 仅当版本号仍为读取前的值时写入缓存
var backfillScript = goredis.NewScript(`
local v = redis.call("GET", KEYS[1])
if not v then
	v = "0"
end
if v ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1
`)

// MessageVersion 返回消息缓存的版本号，从未失效过的消息为 0。
// 回源读取数据库之前先取版本号，再交给 CacheMessageIfVersion。
func (c *Client) MessageVersion(ctx context.Context, id string) (int64, error) {
	v, err := c.rdb.Get(ctx, c.key("message", id, "version")).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	return v, err
}

// CacheMessageIfVersion 在版本号未变化时回填缓存。
//
// 参数:
//   - msg: 从数据库读到的消息
//   - ttl: 缓存有效期
//   - version: 读取数据库之前的 MessageVersion
//
// 返回值:
//   - bool: 是否写入了缓存；期间发生过 InvalidateMessage 时为 false
//   - error: Redis 错误
func (c *Client) CacheMessageIfVersion(ctx context.Context, msg *domain.Message, ttl time.Duration, version int64) (bool, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return false, err
	}
	keys := []string{c.key("message", msg.ID, "version"), c.key("message", msg.ID)}
	n, err := backfillScript.Run(ctx, c.rdb, keys, version, data, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetCachedMessage 获取缓存的消息
func (c *Client) GetCachedMessage(ctx context.Context, id string) (*domain.Message, error) {
	data, err := c.rdb.Get(ctx, c.key("message", id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// InvalidateMessage 在一个事务中递增版本号并删除缓存，
// 使并发读取中尚未完成的回填失效。
func (c *Client) InvalidateMessage(ctx context.Context, id string) error {
	versionKey := c.key("message", id, "version")
	_, err := c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Incr(ctx, versionKey)
		pipe.Expire(ctx, versionKey, versionTTL)
		pipe.Del(ctx, c.key("message", id))
		return nil
	})
	return err
}
