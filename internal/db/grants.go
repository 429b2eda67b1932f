package db

import (
	"context"
	"fmt"
	"time"

	"blacksheep/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertGrant sets the access level for (userID, modelID). An existing row is
// updated in place, keeping its created_at.
func (s *service) UpsertGrant(ctx context.Context, userID, modelID uint, level model.AccessLevel, at time.Time) (*model.AccessGrant, error) {
	var out model.AccessGrant
	upsert := func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			grant := model.AccessGrant{
				UserID:      userID,
				ModelID:     modelID,
				AccessLevel: level,
				CreatedAt:   at,
				UpdatedAt:   at,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "model_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"access_level", "updated_at"}),
			}).Create(&grant).Error
			if err != nil {
				return err
			}
			return tx.Where("user_id = ? AND model_id = ?", userID, modelID).First(&out).Error
		})
	}

	err := upsert()
	if isDuplicate(err) {
		// A concurrent insert of the same pair won the race; one retry turns
		// the insert into an update.
		err = upsert()
	}
	if err != nil {
		if isDuplicate(err) {
			return nil, model.ErrConflictingGrant
		}
		return nil, fmt.Errorf("failed to upsert grant: %w", err)
	}
	return &out, nil
}

func (s *service) GetGrant(ctx context.Context, userID, modelID uint) (*model.AccessGrant, error) {
	var grant model.AccessGrant
	err := s.db.WithContext(ctx).Where("user_id = ? AND model_id = ?", userID, modelID).First(&grant).Error
	if err != nil {
		return nil, notFound(err, "grant")
	}
	return &grant, nil
}

// DeleteGrant removes the grant for the pair. Deleting a missing grant is not
// an error.
func (s *service) DeleteGrant(ctx context.Context, userID, modelID uint) error {
	err := s.db.WithContext(ctx).Where("user_id = ? AND model_id = ?", userID, modelID).Delete(&model.AccessGrant{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete grant: %w", err)
	}
	return nil
}

func (s *service) ListGrantsByUser(ctx context.Context, userID uint) ([]model.GrantView, error) {
	var views []model.GrantView
	err := s.db.WithContext(ctx).
		Table("user_model_access AS g").
		Select("u.username AS username, m.name AS model_name, g.access_level AS access_level, g.created_at AS created_at, g.updated_at AS updated_at").
		Joins("JOIN users u ON u.id = g.user_id").
		Joins("JOIN models m ON m.id = g.model_id").
		Where("g.user_id = ?", userID).
		Order("m.name asc").
		Scan(&views).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	return views, nil
}
