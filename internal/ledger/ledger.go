// Package ledger records which access level each user holds on each model.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"blacksheep/internal/authz"
	"blacksheep/internal/credential"
	"blacksheep/internal/db"
	"blacksheep/internal/model"
)

// Ledger is the access grant ledger.
type Ledger struct {
	db     db.Service
	logger *slog.Logger
	now    func() time.Time
}

func New(dbService db.Service, logger *slog.Logger) *Ledger {
	return &Ledger{
		db:     dbService,
		logger: logger.With("component", "ledger"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *Ledger) endpoints(ctx context.Context, username, modelName string) (*model.User, *model.AIModel, error) {
	u, err := l.db.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, nil, err
	}
	m, err := l.db.GetModelByName(ctx, modelName)
	if err != nil {
		return nil, nil, err
	}
	return u, m, nil
}

// Grant sets username's level on modelName. Admin only. Granting
// model.AccessNone is the same as Revoke.
func (l *Ledger) Grant(ctx context.Context, actor authz.Identity, username, modelName string, level model.AccessLevel) (model.GrantView, error) {
	if _, err := model.ParseAccessLevel(string(level)); err != nil {
		return model.GrantView{}, err
	}
	if err := authz.Check(actor, authz.ActionSetGrant, authz.Target{}); err != nil {
		return model.GrantView{}, err
	}
	u, m, err := l.endpoints(ctx, username, modelName)
	if err != nil {
		return model.GrantView{}, err
	}

	if level == model.AccessNone {
		if err := l.db.DeleteGrant(ctx, u.ID, m.ID); err != nil {
			return model.GrantView{}, err
		}
		l.logger.Info("grant revoked", "username", u.Username, "model", m.Name, "by", actor.Username)
		return model.GrantView{Username: u.Username, ModelName: m.Name, AccessLevel: model.AccessNone}, nil
	}

	g, err := l.db.UpsertGrant(ctx, u.ID, m.ID, level, l.now())
	if err != nil {
		return model.GrantView{}, err
	}
	l.logger.Info("grant set", "username", u.Username, "model", m.Name, "level", level, "by", actor.Username)
	return model.GrantView{
		Username:    u.Username,
		ModelName:   m.Name,
		AccessLevel: g.AccessLevel,
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	}, nil
}

// Revoke removes username's grant on modelName. Admin only. Revoking a
// missing grant succeeds.
func (l *Ledger) Revoke(ctx context.Context, actor authz.Identity, username, modelName string) error {
	_, err := l.Grant(ctx, actor, username, modelName, model.AccessNone)
	return err
}

// LevelOf returns the user's level on the model, or model.AccessNone when no
// grant exists. It fails only when the user or model does not exist.
func (l *Ledger) LevelOf(ctx context.Context, userID, modelID uint) (model.AccessLevel, error) {
	g, err := l.db.GetGrant(ctx, userID, modelID)
	if err == nil {
		return g.AccessLevel, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return "", err
	}
	if _, err := l.db.GetUserByID(ctx, userID); err != nil {
		return "", err
	}
	if _, err := l.db.GetModelByID(ctx, modelID); err != nil {
		return "", err
	}
	return model.AccessNone, nil
}

// Grants lists username's grants (self or admin).
func (l *Ledger) Grants(ctx context.Context, actor authz.Identity, username string) ([]model.GrantView, error) {
	u, err := credential.ResolveSubject(ctx, l.db, actor, authz.ActionReadProfile, username)
	if err != nil {
		return nil, err
	}
	views, err := l.db.ListGrantsByUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if views == nil {
		views = []model.GrantView{}
	}
	return views, nil
}
