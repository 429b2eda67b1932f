package db

import (
	"context"
	"fmt"

	"blacksheep/internal/model"

	"gorm.io/gorm"
)

// CreateUser inserts a user. A unique violation is reported as
// model.ErrDuplicateUsername when the username is taken, and as
// ErrDuplicateAPIKey otherwise.
func (s *service) CreateUser(ctx context.Context, user *model.User) error {
	err := s.db.WithContext(ctx).Create(user).Error
	if err == nil {
		return nil
	}
	if !isDuplicate(err) {
		return fmt.Errorf("failed to create user: %w", err)
	}

	var count int64
	if cerr := s.db.WithContext(ctx).Model(&model.User{}).Where("username = ?", user.Username).Count(&count).Error; cerr != nil {
		return fmt.Errorf("failed to check username after conflict: %w", cerr)
	}
	if count > 0 {
		return model.ErrDuplicateUsername
	}
	return ErrDuplicateAPIKey
}

func (s *service) GetUserByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, notFound(err, "user")
	}
	return &user, nil
}

func (s *service) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, notFound(err, "user")
	}
	return &user, nil
}

func (s *service) GetUserByAPIKey(ctx context.Context, key string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("api_key = ?", key).First(&user).Error; err != nil {
		return nil, notFound(err, "user")
	}
	return &user, nil
}

func (s *service) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.WithContext(ctx).Order("id asc").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *service) updateUser(ctx context.Context, id uint, column string, value any) error {
	result := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Update(column, value)
	if result.Error != nil {
		if isDuplicate(result.Error) {
			return ErrDuplicateAPIKey
		}
		return fmt.Errorf("failed to update user %s: %w", column, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("user: %w", model.ErrNotFound)
	}
	return nil
}

func (s *service) UpdateUserPassword(ctx context.Context, id uint, hash string) error {
	return s.updateUser(ctx, id, "password_hash", hash)
}

func (s *service) UpdateUserAPIKey(ctx context.Context, id uint, key string) error {
	return s.updateUser(ctx, id, "api_key", key)
}

func (s *service) UpdateUserRole(ctx context.Context, id uint, role model.Role) error {
	return s.updateUser(ctx, id, "role", role)
}

func (s *service) SetUsageLimit(ctx context.Context, id uint, limit int64) error {
	return s.updateUser(ctx, id, "usage_limit", limit)
}

// DeleteUser removes the user together with its grants and usage records in
// one transaction. It returns the number of grants removed.
func (s *service) DeleteUser(ctx context.Context, id uint) (int64, error) {
	var revoked int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		grants := tx.Where("user_id = ?", id).Delete(&model.AccessGrant{})
		if grants.Error != nil {
			return grants.Error
		}
		if err := tx.Where("user_id = ?", id).Delete(&model.UsageRecord{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&model.User{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("user: %w", model.ErrNotFound)
		}
		revoked = grants.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return revoked, nil
}
