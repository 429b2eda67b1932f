package db

import (
	"context"
	"fmt"

	"blacksheep/internal/model"

	"gorm.io/gorm"
)

func (s *service) CreateModel(ctx context.Context, m *model.AIModel) error {
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		if isDuplicate(err) {
			return model.ErrDuplicateModelName
		}
		return fmt.Errorf("failed to create model: %w", err)
	}
	return nil
}

func (s *service) GetModelByID(ctx context.Context, id uint) (*model.AIModel, error) {
	var m model.AIModel
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, notFound(err, "model")
	}
	return &m, nil
}

func (s *service) GetModelByName(ctx context.Context, name string) (*model.AIModel, error) {
	var m model.AIModel
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&m).Error; err != nil {
		return nil, notFound(err, "model")
	}
	return &m, nil
}

func (s *service) ListModels(ctx context.Context) ([]model.AIModel, error) {
	var models []model.AIModel
	if err := s.db.WithContext(ctx).Order("name asc").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return models, nil
}

// DeleteModel removes the model and every grant that references it.
// Usage records keep their model name snapshot and are left in place.
func (s *service) DeleteModel(ctx context.Context, id uint) (int64, error) {
	var revoked int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		grants := tx.Where("model_id = ?", id).Delete(&model.AccessGrant{})
		if grants.Error != nil {
			return grants.Error
		}
		result := tx.Delete(&model.AIModel{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("model: %w", model.ErrNotFound)
		}
		revoked = grants.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return revoked, nil
}
