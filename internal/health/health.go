package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"deadswitch/backend/internal/storage"
)

const checkTimeout = 3 * time.Second

// Pinger 外部依赖的连通性检查，例如 Redis
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	store  storage.Store
	redis  Pinger
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器
//
// 参数:
//   - store: 消息存储，存活与就绪检查都依赖它
//   - redis: Redis 连通性检查，未启用时传 nil
//   - maxGoroutines: 协程数上限，超过时存活检查失败
//   - logger: 日志记录器
func NewHealthChecker(store storage.Store, redis Pinger, maxGoroutines int, logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		redis:  redis,
		logger: logger,
	}

	hc.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(maxGoroutines))
	hc.health.AddReadinessCheck("storage", healthcheck.Timeout(hc.checkStore, checkTimeout))
	if redis != nil {
		hc.health.AddReadinessCheck("redis", healthcheck.Timeout(hc.checkRedis, checkTimeout))
	}
	return hc
}

func (hc *HealthChecker) checkStore() error {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()
	if err := hc.store.Health(ctx); err != nil {
		hc.logger.Warn("storage health check failed", zap.Error(err))
		return err
	}
	return nil
}

func (hc *HealthChecker) checkRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()
	if err := hc.redis.Ping(ctx); err != nil {
		hc.logger.Warn("redis health check failed", zap.Error(err))
		return err
	}
	return nil
}

// LiveHandler 返回存活检查处理器
func (hc *HealthChecker) LiveHandler() http.HandlerFunc {
	return hc.health.LiveEndpoint
}

// ReadyHandler 返回就绪检查处理器
func (hc *HealthChecker) ReadyHandler() http.HandlerFunc {
	return hc.health.ReadyEndpoint
}

// CheckHealth 执行全部检查并返回每项结果
func (hc *HealthChecker) CheckHealth() map[string]string {
	results := map[string]string{"storage": "OK"}

	if err := hc.checkStore(); err != nil {
		results["storage"] = fmt.Sprintf("ERROR: %v", err)
	}
	if hc.redis != nil {
		results["redis"] = "OK"
		if err := hc.checkRedis(); err != nil {
			results["redis"] = fmt.Sprintf("ERROR: %v", err)
		}
	} else {
		results["redis"] = "NOT_CONFIGURED"
	}
	results["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return results
}
