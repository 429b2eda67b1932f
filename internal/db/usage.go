package db

import (
	"context"
	"fmt"
	"time"

	"blacksheep/internal/model"

	"gorm.io/gorm"
)

// ConsumeUsage charges c against the user's limit and appends one usage
// record per non-zero token kind. The counter only moves when the result
// stays within the limit; otherwise model.ErrLimitExceeded is returned and
// nothing is written. A zero charge writes nothing.
func (s *service) ConsumeUsage(ctx context.Context, userID uint, m *model.AIModel, c model.Consumption, at time.Time) error {
	total := c.Total()
	if total == 0 {
		// Some drivers report zero affected rows for a no-op update, so a
		// zero charge only checks that the user exists.
		var count int64
		if err := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}
		if count == 0 {
			return fmt.Errorf("user: %w", model.ErrNotFound)
		}
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.User{}).
			Where("id = ? AND usage_count + ? <= usage_limit", userID, total).
			UpdateColumn("usage_count", gorm.Expr("usage_count + ?", total))
		if result.Error != nil {
			return fmt.Errorf("failed to charge usage: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&model.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return fmt.Errorf("user: %w", model.ErrNotFound)
			}
			return model.ErrLimitExceeded
		}

		var records []model.UsageRecord
		for _, part := range []struct {
			kind   model.UsageType
			tokens int64
		}{
			{model.UsagePrompt, c.PromptTokens},
			{model.UsageCompletion, c.CompletionTokens},
			{model.UsageCached, c.CachedTokens},
		} {
			if part.tokens == 0 {
				continue
			}
			records = append(records, model.UsageRecord{
				UserID:    userID,
				ModelID:   m.ID,
				ModelName: m.Name,
				UsageType: part.kind,
				Tokens:    part.tokens,
				CreatedAt: at,
			})
		}
		if len(records) == 0 {
			return nil
		}
		if err := tx.Create(&records).Error; err != nil {
			return fmt.Errorf("failed to record usage: %w", err)
		}
		return nil
	})
}

// RefundUsage lowers the user's counter by tokens, never below zero.
func (s *service) RefundUsage(ctx context.Context, userID uint, tokens int64) error {
	result := s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		UpdateColumn("usage_count", gorm.Expr("CASE WHEN usage_count > ? THEN usage_count - ? ELSE 0 END", tokens, tokens))
	if result.Error != nil {
		return fmt.Errorf("failed to refund usage: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("user: %w", model.ErrNotFound)
	}
	return nil
}

func (s *service) ResetUsage(ctx context.Context, userID uint) error {
	result := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).UpdateColumn("usage_count", 0)
	if result.Error != nil {
		return fmt.Errorf("failed to reset usage: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("user: %w", model.ErrNotFound)
	}
	return nil
}

// ResetAllUsage zeroes every user's counter and returns how many users had a
// non-zero count.
func (s *service) ResetAllUsage(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Model(&model.User{}).Where("usage_count <> 0").UpdateColumn("usage_count", 0)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reset all usage: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// UsageTotals sums the user's usage records by type within [from, to).
// Nil bounds are open.
func (s *service) UsageTotals(ctx context.Context, userID uint, from, to *time.Time) (model.UsageTotals, error) {
	var rows []struct {
		UsageType model.UsageType
		Tokens    int64
	}
	q := s.db.WithContext(ctx).Model(&model.UsageRecord{}).
		Select("usage_type, SUM(tokens) AS tokens").
		Where("user_id = ?", userID)
	if from != nil {
		q = q.Where("created_at >= ?", from.UTC())
	}
	if to != nil {
		q = q.Where("created_at < ?", to.UTC())
	}
	if err := q.Group("usage_type").Scan(&rows).Error; err != nil {
		return model.UsageTotals{}, fmt.Errorf("failed to sum usage: %w", err)
	}

	totals := model.UsageTotals{ByType: make(map[model.UsageType]int64, len(rows))}
	for _, r := range rows {
		totals.ByType[r.UsageType] = r.Tokens
		if r.UsageType != model.UsageCached {
			totals.Total += r.Tokens
		}
	}
	return totals, nil
}
