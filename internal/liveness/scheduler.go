package liveness

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"deadswitch/backend/internal/domain"
	"deadswitch/backend/internal/storage"
)

const tickLockKey = "liveness:tick"

// ErrTickInProgress 另一个 tick 正在执行
var ErrTickInProgress = errors.New("tick already in progress")

// errNotDue 原子更新中发现消息已不再到期
var errNotDue = errors.New("message no longer due")

// Pinger 向所有者投递存活探测
type Pinger interface {
	Ping(ctx context.Context, owner, messageID string) error
}

// Releaser 释放消息并通知接收人
type Releaser interface {
	Release(ctx context.Context, messageID string) error
	NotifyRecipient(ctx context.Context, messageID string) error
}

// Executor 执行命令，队列满时返回 false 而不阻塞
type Executor interface {
	TrySubmit(task func()) bool
}

// Recorder 记录 tick 指标
type Recorder interface {
	RecordTick(duration time.Duration, due, checks, retries, reminders, dropped int)
	RecordTickSkipped()
}

// Config 调度器配置
type Config struct {
	Interval         time.Duration
	PingRetries      int
	ReminderInterval time.Duration
	ExecTimeout      time.Duration
	LockTTL          time.Duration
}

// TickReport 一次 tick 的统计
type TickReport struct {
	Due       int `json:"due"`
	Checks    int `json:"checks"`
	Retries   int `json:"retries"`
	Reminders int `json:"reminders"`
	Skipped   int `json:"skipped"`
	Dropped   int `json:"dropped"`
}

// Scheduler 用时钟驱动 Plan，并把命令交给 Executor 执行。
//
// tick 本身只做查询和入队，执行时间与下游推送延迟无关。
// 同一条消息同一类命令在执行完之前不会被重复入队。
type Scheduler struct {
	store    storage.MessageRepository
	pinger   Pinger
	releaser Releaser
	executor Executor
	locker   storage.Locker
	recorder Recorder
	log      *zap.Logger
	cfg      Config
	now      func() time.Time

	mu       sync.RWMutex
	baseCtx  context.Context
	inflight sync.Map
}

// Option 调度器可选项
type Option func(*Scheduler)

// WithClock 注入时钟，测试使用
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithRecorder 设置指标记录器
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithLocker 设置 tick 锁，多实例部署时使用 Redis 实现
func WithLocker(l storage.Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

// NewScheduler 创建调度器
func NewScheduler(
	store storage.MessageRepository,
	pinger Pinger,
	releaser Releaser,
	executor Executor,
	cfg Config,
	log *zap.Logger,
	opts ...Option,
) *Scheduler {
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	s := &Scheduler{
		store:    store,
		pinger:   pinger,
		releaser: releaser,
		executor: executor,
		locker:   storage.NewLocalLocker(),
		log:      log,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		baseCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy 返回当前调度策略
func (s *Scheduler) Policy() Policy {
	return Policy{
		MaxPingAttempts:  s.cfg.PingRetries + 1,
		ReminderInterval: s.cfg.ReminderInterval,
	}
}

// Run 按固定周期执行 tick，直到 ctx 取消
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info("liveness scheduler started", zap.Duration("interval", s.cfg.Interval))
	s.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("liveness scheduler stopped")
			return nil
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	if _, err := s.Tick(ctx); err != nil && !errors.Is(err, ErrTickInProgress) {
		s.log.Error("tick failed", zap.Error(err))
	}
}

// Tick 执行一次检测：读取快照、计算命令并入队。
// 另一个 tick 持有锁时返回 ErrTickInProgress。
func (s *Scheduler) Tick(ctx context.Context) (TickReport, error) {
	var report TickReport

	unlock, ok, err := s.locker.TryLock(ctx, tickLockKey, s.cfg.LockTTL)
	if err != nil {
		return report, err
	}
	if !ok {
		if s.recorder != nil {
			s.recorder.RecordTickSkipped()
		}
		return report, ErrTickInProgress
	}
	defer unlock()

	start := time.Now()
	now := s.now()
	s.log.Debug("scheduled task started", zap.Time("now", now))

	snap, err := s.snapshot(ctx, now)
	if err != nil {
		return report, err
	}
	report.Due = len(snap.Due)

	for _, cmd := range Plan(now, snap, s.Policy()) {
		switch s.dispatch(cmd, now) {
		case dispatchQueued:
			switch cmd.Kind {
			case CommandCheck:
				report.Checks++
			case CommandRetryPing:
				report.Retries++
			case CommandNotifyRecipient:
				report.Reminders++
			}
		case dispatchInflight:
			report.Skipped++
		case dispatchDropped:
			report.Dropped++
		}
	}

	elapsed := time.Since(start)
	if s.recorder != nil {
		s.recorder.RecordTick(elapsed, report.Due, report.Checks, report.Retries, report.Reminders, report.Dropped)
	}
	s.log.Info("scheduled task finished",
		zap.Int("due", report.Due),
		zap.Int("checks", report.Checks),
		zap.Int("retries", report.Retries),
		zap.Int("reminders", report.Reminders),
		zap.Int("skipped", report.Skipped),
		zap.Int("dropped", report.Dropped),
		zap.Duration("elapsed", elapsed))
	return report, nil
}

func (s *Scheduler) snapshot(ctx context.Context, now time.Time) (Snapshot, error) {
	var snap Snapshot
	var err error

	if snap.Due, err = s.store.DueForCheck(ctx, now); err != nil {
		return snap, err
	}
	if s.cfg.PingRetries > 0 {
		if snap.PingRetries, err = s.store.ListPingRetries(ctx, s.cfg.PingRetries+1); err != nil {
			return snap, err
		}
	}
	if snap.Revealed, err = s.store.ListRevealed(ctx); err != nil {
		return snap, err
	}
	return snap, nil
}

type dispatchResult int

const (
	dispatchQueued dispatchResult = iota
	dispatchInflight
	dispatchDropped
)

func (s *Scheduler) dispatch(cmd Command, now time.Time) dispatchResult {
	key := cmd.key()
	if _, loaded := s.inflight.LoadOrStore(key, struct{}{}); loaded {
		return dispatchInflight
	}

	ok := s.executor.TrySubmit(func() {
		defer s.inflight.Delete(key)
		s.execute(cmd, now)
	})
	if !ok {
		s.inflight.Delete(key)
		s.log.Warn("command queue full, will retry next tick",
			zap.String("kind", cmd.Kind.String()),
			zap.String("message_id", cmd.MessageID))
		return dispatchDropped
	}
	return dispatchQueued
}

func (s *Scheduler) execute(cmd Command, now time.Time) {
	s.mu.RLock()
	base := s.baseCtx
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(base, s.cfg.ExecTimeout)
	defer cancel()

	log := s.log.With(
		zap.String("kind", cmd.Kind.String()),
		zap.String("message_id", cmd.MessageID))

	var err error
	switch cmd.Kind {
	case CommandCheck:
		err = s.check(ctx, cmd, now, log)
	case CommandRetryPing:
		err = s.pinger.Ping(ctx, cmd.Owner, cmd.MessageID)
	case CommandNotifyRecipient:
		err = s.releaser.NotifyRecipient(ctx, cmd.MessageID)
	}

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		log.Debug("message deleted, skipping")
	case errors.Is(err, domain.ErrDeliveryFailed):
		log.Warn("notification delivery failed, will retry", zap.Error(err))
	default:
		log.Error("command failed", zap.Error(err))
	}
}

// check 在原子更新中推进状态，然后根据结果 ping 或释放
func (s *Scheduler) check(ctx context.Context, cmd Command, now time.Time, log *zap.Logger) error {
	var outcome Outcome
	msg, err := s.store.UpdateMessage(ctx, cmd.MessageID, func(m *domain.Message) error {
		outcome = Advance(m, now)
		if outcome == OutcomeNone {
			return errNotDue
		}
		return nil
	})
	if errors.Is(err, errNotDue) {
		log.Debug("owner active since snapshot, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	log.Info("verification deadline missed",
		zap.Int("consecutive_failures", msg.ConsecutiveFailures),
		zap.Int("max_failed_verification", msg.MaxFailedVerification),
		zap.String("outcome", outcome.String()))

	if outcome == OutcomeRelease {
		return s.releaser.Release(ctx, cmd.MessageID)
	}
	return s.pinger.Ping(ctx, msg.Owner, cmd.MessageID)
}
