package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"deadswitch/backend/internal/storage"
)

// unlockScript 只有持有者才能删除锁
var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ storage.Locker = (*Client)(nil)

// TryLock 使用 SET NX PX 获取分布式锁
func (c *Client) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	lockKey := c.key("lock", key)
	token := uuid.New().String()

	ok, err := c.rdb.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := unlockScript.Run(ctx, c.rdb, []string{lockKey}, token).Err(); err != nil {
			c.log.Warn("failed to release lock", zap.String("key", lockKey), zap.Error(err))
		}
	}
	return unlock, true, nil
}
