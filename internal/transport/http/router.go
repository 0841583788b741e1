package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deadswitch/backend/internal/auth"
	jwtpkg "deadswitch/backend/internal/auth/jwt"
	"deadswitch/backend/internal/config"
	"deadswitch/backend/internal/health"
	"deadswitch/backend/internal/middleware"
	"deadswitch/backend/internal/monitoring"
	"deadswitch/backend/internal/service"
	"deadswitch/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config          *config.Config
	AuthService     *auth.Service
	MessageService  *service.MessageService
	ActivityService *service.ActivityService
	Ticker          Ticker          // 外部触发的 tick
	JWTManager      *jwtpkg.Manager // 访问令牌校验
	WebSocketHub    *websocket.Hub  // 为 nil 时不注册 /ws
	Metrics         *monitoring.Metrics
	Health          *health.HealthChecker // 为 nil 时不注册 /healthz 与 /readyz
	Logger          *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()
	log := deps.Logger

	var onPanic func()
	if deps.Metrics != nil {
		onPanic = deps.Metrics.RecordPanic
	}
	router.Use(middleware.RecoveryHandler(log, onPanic))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	if deps.Metrics != nil {
		router.Use(middleware.HTTPMetrics(deps.Metrics))
	}
	router.Use(middleware.DynamicBodySizeLimit(map[string]int64{
		"/v1/messages": middleware.MessageBodyLimit,
	}, middleware.DefaultBodyLimit))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Task-Token"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	if len(corsConfig.AllowOrigins) > 0 {
		router.Use(gincors.New(corsConfig))
	}

	authHandler := NewAuthHandler(deps.AuthService, log)
	messageHandler := NewMessageHandler(deps.MessageService, log)
	accountHandler := NewAccountHandler(deps.ActivityService, deps.Config.Push.VAPIDPublicKey, log)
	taskHandler := NewTaskHandler(deps.Ticker, log)

	jwtAuth := middleware.NewJWTAuth(deps.JWTManager, deps.ActivityService, log)

	// 健康检查
	if deps.Health != nil {
		router.GET("/healthz", gin.WrapF(deps.Health.LiveHandler()))
		router.GET("/readyz", gin.WrapF(deps.Health.ReadyHandler()))
	} else {
		router.GET("/healthz", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}
	if deps.WebSocketHub != nil {
		router.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
	}

	// V1 API
	v1 := router.Group("/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
		}

		v1.GET("/push/vapid-public-key", accountHandler.VAPIDPublicKey)

		v1.POST("/tasks/tick", middleware.RequireTaskToken(deps.Config.Scheduler.TaskToken), taskHandler.Tick)

		// 以下接口需要登录，每次请求都记录为所有者活动
		authed := v1.Group("")
		authed.Use(jwtAuth.RequireAuth())
		{
			authed.POST("/messages", messageHandler.Create)
			authed.GET("/messages", messageHandler.ListOwned)
			authed.GET("/messages/received", messageHandler.ListReceived)
			authed.GET("/messages/:id", messageHandler.Get)
			authed.DELETE("/messages/:id", messageHandler.Delete)

			authed.PUT("/subscription", accountHandler.Subscribe)
			authed.DELETE("/subscription", accountHandler.Unsubscribe)
			authed.POST("/notifications/test", accountHandler.TestNotification)
		}
	}

	return router
}
