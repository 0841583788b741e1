package hybrid

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"deadswitch/backend/internal/domain"
	"deadswitch/backend/internal/storage"
	"deadswitch/backend/internal/storage/redis"
)

// Store 混合存储实现：数据库为权威数据源，Redis 缓存单条消息读取。
//
// 写操作在数据库提交后递增版本号并删除缓存；回填只在版本号与读库前一致时生效，
// 因此与写操作交错的读取不会把旧数据写回缓存。列表与到期查询始终直接走数据库。
type Store struct {
	storage.Store
	cache *redis.Client
	ttl   time.Duration
	log   *zap.Logger
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建混合存储实例
func NewStore(db storage.Store, cache *redis.Client, ttl time.Duration, log *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{Store: db, cache: cache, ttl: ttl, log: log}
}

// GetMessage 先查 Redis，未命中再查数据库并回填
func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	if msg, err := s.cache.GetCachedMessage(ctx, id); err == nil {
		return msg, nil
	} else if !errors.Is(err, redis.ErrCacheMiss) {
		s.log.Warn("message cache read failed", zap.String("id", id), zap.Error(err))
	}

	version, verr := s.cache.MessageVersion(ctx, id)
	msg, err := s.Store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if verr != nil {
		s.log.Warn("message cache version read failed", zap.String("id", id), zap.Error(verr))
		return msg, nil
	}
	cached, err := s.cache.CacheMessageIfVersion(ctx, msg, s.ttl, version)
	if err != nil {
		s.log.Warn("message cache write failed", zap.String("id", id), zap.Error(err))
	} else if !cached {
		s.log.Debug("message cache backfill skipped after concurrent write", zap.String("id", id))
	}
	return msg, nil
}

// UpdateMessage 更新数据库后使缓存失效
func (s *Store) UpdateMessage(ctx context.Context, id string, fn storage.Mutation) (*domain.Message, error) {
	msg, err := s.Store.UpdateMessage(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, id)
	return msg, nil
}

// DeleteMessage 删除数据库记录后使缓存失效
func (s *Store) DeleteMessage(ctx context.Context, id, requester string) error {
	if err := s.Store.DeleteMessage(ctx, id, requester); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

// Health 同时检查数据库和 Redis
func (s *Store) Health(ctx context.Context) error {
	if err := s.Store.Health(ctx); err != nil {
		return err
	}
	return s.cache.Ping(ctx)
}

// Close 关闭数据库和 Redis 连接
func (s *Store) Close() error {
	dbErr := s.Store.Close()
	cacheErr := s.cache.Close()
	return errors.Join(dbErr, cacheErr)
}

// Locker 返回基于 Redis 的分布式锁
func (s *Store) Locker() storage.Locker {
	return s.cache
}

func (s *Store) invalidate(ctx context.Context, id string) {
	if err := s.cache.InvalidateMessage(ctx, id); err != nil {
		s.log.Warn("message cache invalidation failed", zap.String("id", id), zap.Error(err))
	}
}
