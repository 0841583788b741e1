package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"deadswitch/backend/internal/auth"
	"deadswitch/backend/internal/config"
	"deadswitch/backend/internal/health"
	"deadswitch/backend/internal/liveness"
	"deadswitch/backend/internal/logger"
	"deadswitch/backend/internal/monitoring"
	"deadswitch/backend/internal/notify"
	"deadswitch/backend/internal/pool"
	"deadswitch/backend/internal/service"
	"deadswitch/backend/internal/storage"
	"deadswitch/backend/internal/storage/filesystem"
	"deadswitch/backend/internal/storage/hybrid"
	"deadswitch/backend/internal/storage/memory"
	"deadswitch/backend/internal/storage/redis"
	sqlstore "deadswitch/backend/internal/storage/sql"
	httptransport "deadswitch/backend/internal/transport/http"
	"deadswitch/backend/internal/websocket"
)

const version = "0.3.0"

// main 启动 HTTP API、WebSocket 与存活检测调度器。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.NewLogger(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting deadswitch server",
		zap.String("version", version),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// Redis 可选：启用时提供消息缓存与跨实例 tick 锁
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.New(&cfg.Redis, log)
		if err != nil {
			log.Fatal("failed to connect redis", zap.Error(err))
		}
	}

	store, err := initializeStorage(cfg, rdb, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close()
	// 混合存储关闭时会一并关闭 Redis
	if _, ok := store.(*hybrid.Store); !ok && rdb != nil {
		defer rdb.Close()
	}

	// 初始化监控系统
	metrics := monitoring.NewMetrics()

	var redisPinger health.Pinger
	if rdb != nil {
		redisPinger = rdb
	}
	healthChecker := health.NewHealthChecker(store, redisPinger, 10000, log)

	// 令牌与 WebSocket
	tokens := auth.NewJWTManager(&cfg.JWT)
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, tokens.Manager(), log)

	// 通知通道
	pusher := initializePushers(cfg, wsHub, log)

	// 存活检测
	workers := pool.NewWorkerPool(cfg.Scheduler.Workers, cfg.Scheduler.QueueSize, log)
	metrics.RegisterQueueDepth(workers.Pending)

	limiter := rate.NewLimiter(rate.Limit(cfg.Scheduler.PushRatePerSecond), cfg.Scheduler.PushBurst)
	dispatcher := notify.NewPingDispatcher(store, store, pusher, limiter, metrics, log)
	releaser := notify.NewReleaseNotifier(store, store, pusher, metrics, log)

	schedulerOpts := []liveness.Option{liveness.WithRecorder(metrics)}
	if rdb != nil {
		schedulerOpts = append(schedulerOpts, liveness.WithLocker(rdb))
	}
	scheduler := liveness.NewScheduler(store, dispatcher, releaser, workers, liveness.Config{
		Interval:         cfg.Scheduler.Interval,
		PingRetries:      cfg.Scheduler.PingRetries,
		ReminderInterval: cfg.Scheduler.ReminderInterval,
		ExecTimeout:      cfg.Scheduler.ExecTimeout,
		LockTTL:          cfg.Scheduler.LockTTL,
	}, log, schedulerOpts...)

	// 业务服务
	activityService := service.NewActivityService(store, store, pusher, log)
	messageService := service.NewMessageService(store, store, service.MessageRules{
		MinInterval:                  cfg.Scheduler.Interval,
		RequireRecipientSubscription: cfg.Registration.RequireRecipientSubscription,
	}, log)
	authService := auth.NewService(store, tokens, activityService, cfg.Registration.Block, log)

	log.Info("JWT configuration",
		zap.String("issuer", cfg.JWT.Issuer),
		zap.Duration("access_expiry", cfg.JWT.AccessExpiry),
		zap.Duration("refresh_expiry", cfg.JWT.RefreshExpiry),
	)

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:          cfg,
		AuthService:     authService,
		MessageService:  messageService,
		ActivityService: activityService,
		Ticker:          scheduler,
		JWTManager:      tokens.Manager(),
		WebSocketHub:    wsHub,
		Metrics:         metrics,
		Health:          healthChecker,
		Logger:          log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// 工作池不跟随 groupCtx 退出，关闭时由 Stop 等待队列排空
	workers.Start(context.Background())

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 存活检测调度器 goroutine
	if cfg.Scheduler.Enabled {
		group.Go(func() error {
			return scheduler.Run(groupCtx)
		})
	} else {
		log.Info("in-process scheduler disabled, waiting for external ticks",
			zap.Bool("task_endpoint", cfg.Scheduler.TaskToken != ""))
	}

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// 关闭 HTTP 服务器
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		workers.Stop()
		log.Info("servers stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", zap.Error(err))
		return
	}

	log.Info("server exited cleanly")
}

// initializeStorage 按配置创建存储
//
// SQL 存储在启用 Redis 时包一层缓存；memory 与 filesystem 直接使用。
func initializeStorage(cfg *config.Config, rdb *redis.Client, log *zap.Logger) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "", "memory":
		log.Warn("using memory storage, data is lost on restart")
		return memory.NewStore(), nil

	case "filesystem":
		store, err := filesystem.NewStore(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open filesystem storage: %w", err)
		}
		log.Info("using filesystem storage", zap.String("path", cfg.Storage.Path))
		return store, nil

	default:
		db, err := sqlstore.NewStore(cfg.Storage.Type, cfg.Storage.DSN, sqlstore.Options{
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Type, err)
		}
		if rdb == nil {
			log.Info("using database storage", zap.String("type", cfg.Storage.Type))
			return db, nil
		}
		log.Info("using database storage with redis cache",
			zap.String("type", cfg.Storage.Type),
			zap.String("redis_address", cfg.Redis.Address),
			zap.Duration("cache_ttl", cfg.Redis.CacheTTL))
		return hybrid.NewStore(db, rdb, cfg.Redis.CacheTTL, log), nil
	}
}

// initializePushers 组合已配置的通知通道
//
// WebSocket 只覆盖在线用户。没有任何外部通道时追加日志通道。
func initializePushers(cfg *config.Config, hub *websocket.Hub, log *zap.Logger) notify.Pusher {
	var pushers []notify.Pusher

	if cfg.Push.Enabled() {
		pushers = append(pushers, notify.NewWebPusher(cfg.Push, &http.Client{Timeout: 15 * time.Second}, log))
		log.Info("web push channel enabled")
	}
	if cfg.SMTP.Enabled() {
		pushers = append(pushers, notify.NewMailPusher(cfg.SMTP, log))
		log.Info("mail channel enabled", zap.String("smtp", cfg.SMTP.Addr))
	}
	external := len(pushers)

	pushers = append(pushers, hub)
	if external == 0 {
		log.Warn("no push channel configured, notifications are only logged")
		pushers = append(pushers, notify.NewLogPusher(log))
	}
	return notify.NewMultiPusher(log, pushers...)
}
