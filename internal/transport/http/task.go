package httptransport

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deadswitch/backend/internal/liveness"
)

// Ticker 执行一次存活检测
type Ticker interface {
	Tick(ctx context.Context) (liveness.TickReport, error)
}

// TaskHandler 供外部定时器触发检测，适用于不常驻调度器的部署
type TaskHandler struct {
	ticker Ticker
	log    *zap.Logger
}

// NewTaskHandler 创建任务处理器
func NewTaskHandler(ticker Ticker, log *zap.Logger) *TaskHandler {
	return &TaskHandler{ticker: ticker, log: log}
}

// Tick 同步执行一次 tick，已有 tick 运行时返回 409
//
// POST /v1/tasks/tick
func (h *TaskHandler) Tick(c *gin.Context) {
	start := time.Now()
	report, err := h.ticker.Tick(c.Request.Context())
	if err != nil {
		RespondError(c, h.log, err)
		return
	}

	h.log.Info("external tick finished",
		zap.Int("due", report.Due),
		zap.Duration("elapsed", time.Since(start)))
	Success(c, report)
}
