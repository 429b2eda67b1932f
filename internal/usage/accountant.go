// Package usage charges token consumption against per-user limits.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"blacksheep/internal/authz"
	"blacksheep/internal/credential"
	"blacksheep/internal/db"
	"blacksheep/internal/model"
)

// Accountant is the usage accountant.
type Accountant struct {
	db     db.Service
	logger *slog.Logger
	now    func() time.Time
}

func NewAccountant(dbService db.Service, logger *slog.Logger) *Accountant {
	return &Accountant{
		db:     dbService,
		logger: logger.With("component", "usage"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RecordUsage charges c to the user in one atomic step. If the charge would
// take the user past the limit it fails with model.ErrLimitExceeded and
// leaves the ledger unchanged.
func (a *Accountant) RecordUsage(ctx context.Context, userID uint, m *model.AIModel, c model.Consumption) error {
	if c.PromptTokens < 0 || c.CompletionTokens < 0 || c.CachedTokens < 0 {
		return fmt.Errorf("%w: token counts must not be negative", model.ErrInvalidInput)
	}
	if c.PromptTokens > math.MaxInt64-c.CompletionTokens {
		return fmt.Errorf("%w: token counts overflow", model.ErrInvalidInput)
	}
	if err := a.db.ConsumeUsage(ctx, userID, m, c, a.now()); err != nil {
		return err
	}
	a.logger.Debug("usage recorded", "user_id", userID, "model", m.Name,
		"prompt_tokens", c.PromptTokens, "completion_tokens", c.CompletionTokens, "cached_tokens", c.CachedTokens)
	return nil
}

// Refund returns tokens to the user's allowance. The counter never drops
// below zero.
func (a *Accountant) Refund(ctx context.Context, userID uint, tokens int64) error {
	if tokens < 0 {
		return fmt.Errorf("%w: refund must not be negative", model.ErrInvalidInput)
	}
	if tokens == 0 {
		return nil
	}
	return a.db.RefundUsage(ctx, userID, tokens)
}

// Credit is the admin-facing Refund.
func (a *Accountant) Credit(ctx context.Context, actor authz.Identity, username string, tokens int64) (*model.User, error) {
	u, err := credential.ResolveSubject(ctx, a.db, actor, authz.ActionResetUsage, username)
	if err != nil {
		return nil, err
	}
	if err := a.Refund(ctx, u.ID, tokens); err != nil {
		return nil, err
	}
	a.logger.Info("usage credited", "username", u.Username, "tokens", tokens, "by", actor.Username)
	return a.db.GetUserByID(ctx, u.ID)
}

// SetLimit changes the user's usage limit. Admin only.
func (a *Accountant) SetLimit(ctx context.Context, actor authz.Identity, username string, limit int64) (*model.User, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: usage limit must not be negative", model.ErrInvalidInput)
	}
	u, err := credential.ResolveSubject(ctx, a.db, actor, authz.ActionSetUsageLimit, username)
	if err != nil {
		return nil, err
	}
	if err := a.db.SetUsageLimit(ctx, u.ID, limit); err != nil {
		return nil, err
	}
	u.UsageLimit = limit
	a.logger.Info("usage limit set", "username", u.Username, "limit", limit, "by", actor.Username)
	return u, nil
}

// UsageOf returns username's usage snapshot (self or admin). Records are
// summed within [from, to); nil bounds are open.
func (a *Accountant) UsageOf(ctx context.Context, actor authz.Identity, username string, from, to *time.Time) (model.UsageSnapshot, error) {
	if from != nil && to != nil && !from.Before(*to) {
		return model.UsageSnapshot{}, fmt.Errorf("%w: start_date must be before end_date", model.ErrInvalidInput)
	}
	u, err := credential.ResolveSubject(ctx, a.db, actor, authz.ActionReadUsage, username)
	if err != nil {
		return model.UsageSnapshot{}, err
	}
	totals, err := a.db.UsageTotals(ctx, u.ID, from, to)
	if err != nil {
		return model.UsageSnapshot{}, err
	}
	return model.UsageSnapshot{
		Username:   u.Username,
		UsageCount: u.UsageCount,
		UsageLimit: u.UsageLimit,
		Remaining:  u.Remaining(),
		Records:    totals,
		StartDate:  from,
		EndDate:    to,
	}, nil
}

// Reset zeroes every user's counter. Records are kept.
func (a *Accountant) Reset(ctx context.Context) (int64, error) {
	n, err := a.db.ResetAllUsage(ctx)
	if err != nil {
		return 0, err
	}
	a.logger.Info("usage counters reset", "users", n)
	return n, nil
}

// ResetUser zeroes one user's counter. Admin only.
func (a *Accountant) ResetUser(ctx context.Context, actor authz.Identity, username string) error {
	u, err := credential.ResolveSubject(ctx, a.db, actor, authz.ActionResetUsage, username)
	if err != nil {
		return err
	}
	if err := a.db.ResetUsage(ctx, u.ID); err != nil {
		return err
	}
	a.logger.Info("usage counter reset", "username", u.Username, "by", actor.Username)
	return nil
}
