package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"deadswitch/backend/internal/domain"
	"deadswitch/backend/internal/storage"
)

// Options 连接池参数
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store 基于 GORM 的关系数据库存储（PostgreSQL、MySQL 5.7+、SQLite）
type Store struct {
	db         *gorm.DB
	driverName string
}

var _ storage.Store = (*Store)(nil)

// NewStore 按驱动名创建存储并自动迁移表结构
func NewStore(driverName, dsn string, opts Options) (*Store, error) {
	dialector, err := dialectorFor(driverName, dsn)
	if err != nil {
		return nil, err
	}
	if driverName == "sqlite" {
		// SQLite 只允许单个写连接
		opts.MaxOpenConns = 1
		opts.MaxIdleConns = 1
	}
	return NewStoreWithDialector(driverName, dialector, opts)
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例
func NewStoreWithDialector(driverName string, dialector gorm.Dialector, opts Options) (*Store, error) {
	config := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	store := &Store{db: db, driverName: driverName}
	if err := store.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func dialectorFor(driverName, dsn string) (gorm.Dialector, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	switch driverName {
	case "postgres", "postgresql":
		return postgres.Open(dsn), nil
	case "mysql":
		cfg, err := gomysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql DSN: %w", err)
		}
		// 时间字段需要 parseTime 才能扫描到 time.Time
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		return mysql.Open(cfg.FormatDSN()), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", driverName)
	}
}

// migrate 执行数据库迁移（使用GORM AutoMigrate）
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.User{},
		&domain.Message{},
	)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库健康状态
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// forUpdate 在支持行锁的数据库上追加 SELECT ... FOR UPDATE
func (s *Store) forUpdate(tx *gorm.DB) *gorm.DB {
	if s.driverName == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// ========== 消息 ==========

// CreateMessage 保存新消息
func (s *Store) CreateMessage(ctx context.Context, msg *domain.Message) (string, error) {
	m := msg.Clone()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || s.exists(ctx, &domain.Message{}, m.ID) {
			return "", domain.ErrDuplicate
		}
		return "", fmt.Errorf("failed to create message: %w", err)
	}
	return m.ID, nil
}

// GetMessage 根据 ID 获取消息
func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	var m domain.Message
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	return normalize(&m), nil
}

// ListByOwner 列出 owner 创建的消息
func (s *Store) ListByOwner(ctx context.Context, owner string) ([]domain.Message, error) {
	return s.find(ctx, "owner = ?", owner)
}

// ListByRecipient 列出发给 recipient 的消息
func (s *Store) ListByRecipient(ctx context.Context, recipient string) ([]domain.Message, error) {
	return s.find(ctx, "recipient = ?", recipient)
}

// DueForCheck 返回已到期的未释放消息。
// 截止时间依赖两列取较大值，各方言写法不一，因此在内存中筛选。
func (s *Store) DueForCheck(ctx context.Context, now time.Time) ([]domain.Message, error) {
	candidates, err := s.find(ctx, "revealed = ?", false)
	if err != nil {
		return nil, err
	}
	due := candidates[:0]
	for _, m := range candidates {
		if m.IsDue(now) {
			due = append(due, m)
		}
	}
	return due, nil
}

// ListRevealed 返回已释放的消息
func (s *Store) ListRevealed(ctx context.Context) ([]domain.Message, error) {
	return s.find(ctx, "revealed = ?", true)
}

// ListPingRetries 返回需要重新投递 ping 的消息
func (s *Store) ListPingRetries(ctx context.Context, maxAttempts int) ([]domain.Message, error) {
	return s.find(ctx,
		"revealed = ? AND ping_delivered = ? AND last_ping_sent_at IS NOT NULL AND owner_last_seen <= last_ping_sent_at AND ping_attempts < ?",
		false, false, maxAttempts)
}

// UpdateMessage 在事务内读-改-写，非 SQLite 数据库使用行锁
func (s *Store) UpdateMessage(ctx context.Context, id string, fn storage.Mutation) (*domain.Message, error) {
	var result *domain.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur domain.Message
		if err := s.forUpdate(tx).First(&cur, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrMessageNotFound
			}
			return err
		}

		next, err := domain.ApplyMutation(normalize(&cur), fn)
		if err != nil {
			return err
		}
		if err := tx.Save(next).Error; err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteMessage 删除消息
func (s *Store) DeleteMessage(ctx context.Context, id, requester string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur domain.Message
		if err := s.forUpdate(tx).First(&cur, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrMessageNotFound
			}
			return err
		}
		if !storage.CanDelete(&cur, requester) {
			return domain.ErrForbidden
		}
		return tx.Delete(&domain.Message{}, "id = ?", id).Error
	})
}

// exists 部分驱动不翻译主键冲突，创建失败时用它兜底判断
func (s *Store) exists(ctx context.Context, model interface{}, id string) bool {
	var count int64
	err := s.db.WithContext(ctx).Model(model).Where("id = ?", id).Count(&count).Error
	return err == nil && count > 0
}

func (s *Store) find(ctx context.Context, query string, args ...interface{}) ([]domain.Message, error) {
	var msgs []domain.Message
	err := s.db.WithContext(ctx).
		Where(query, args...).
		Order("created_ts asc, id asc").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		normalize(&msgs[i])
	}
	return msgs, nil
}

// normalize 把驱动返回的时间统一为 UTC
func normalize(m *domain.Message) *domain.Message {
	m.OwnerLastSeen = m.OwnerLastSeen.UTC()
	m.RecipientLastSeen = m.RecipientLastSeen.UTC()
	m.CreatedTS = m.CreatedTS.UTC()
	for _, t := range []**time.Time{&m.LastPingSentAt, &m.RevealedAt, &m.RecipientNotifiedAt, &m.OwnerNotifiedAt} {
		if *t != nil {
			u := (*t).UTC()
			*t = &u
		}
	}
	return m
}
