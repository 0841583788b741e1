package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"deadswitch/backend/internal/domain"
)

// CreateUser 创建用户
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	if err := s.db.WithContext(ctx).Create(user.Clone()).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || s.exists(ctx, &domain.User{}, user.ID) {
			return domain.ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser 获取用户
func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	u.LastSeen = u.LastSeen.UTC()
	return &u, nil
}

// TouchUser 刷新最近活动时间，只会向前推进
func (s *Store) TouchUser(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ? AND last_seen < ?", id, at).
		Updates(map[string]interface{}{"last_seen": at, "updated_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.userExists(ctx, id)
	}
	return nil
}

// SetSubscription 设置推送订阅
func (s *Store) SetSubscription(ctx context.Context, id string, sub domain.Subscription) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u domain.User
		if err := s.forUpdate(tx).First(&u, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrUserNotFound
			}
			return err
		}
		u.Subscription = sub
		return tx.Save(&u).Error
	})
}

func (s *Store) userExists(ctx context.Context, id string) error {
	if !s.exists(ctx, &domain.User{}, id) {
		return domain.ErrUserNotFound
	}
	return nil
}
