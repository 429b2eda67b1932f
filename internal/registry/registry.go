// Package registry manages the catalogue of callable models.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"blacksheep/internal/authz"
	"blacksheep/internal/db"
	"blacksheep/internal/model"
)

// NewModel is the input to CreateModel.
type NewModel struct {
	Name           string
	Description    string
	Provider       model.Provider
	ProviderConfig model.ProviderConfig
}

func (m NewModel) validate() error {
	if strings.TrimSpace(m.Name) == "" || len(m.Name) > 255 {
		return fmt.Errorf("%w: model name must be 1-255 characters", model.ErrInvalidInput)
	}
	if _, err := model.ParseProvider(string(m.Provider)); err != nil {
		return err
	}
	cfg := m.ProviderConfig
	if cfg.APIKey == "" || cfg.Deployment == "" {
		return fmt.Errorf("%w: provider_config needs deployment and api_key", model.ErrInvalidInput)
	}
	if m.Provider == model.ProviderAzureOpenAI && cfg.Endpoint == "" {
		return fmt.Errorf("%w: provider_config needs endpoint for %s", model.ErrInvalidInput, m.Provider)
	}
	return nil
}

// Registry is the model registry.
type Registry struct {
	db     db.Service
	logger *slog.Logger
}

func New(dbService db.Service, logger *slog.Logger) *Registry {
	return &Registry{db: dbService, logger: logger.With("component", "registry")}
}

// CreateModel registers a model. Admin only.
func (r *Registry) CreateModel(ctx context.Context, actor authz.Identity, req NewModel) (model.ModelSummary, error) {
	if err := authz.Check(actor, authz.ActionCreateModel, authz.Target{}); err != nil {
		return model.ModelSummary{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := req.validate(); err != nil {
		return model.ModelSummary{}, err
	}

	if _, err := r.db.GetModelByName(ctx, req.Name); err == nil {
		return model.ModelSummary{}, model.ErrDuplicateModelName
	} else if !errors.Is(err, model.ErrNotFound) {
		return model.ModelSummary{}, err
	}

	m := &model.AIModel{
		Name:           req.Name,
		Description:    req.Description,
		Provider:       req.Provider,
		ProviderConfig: req.ProviderConfig,
	}
	if err := r.db.CreateModel(ctx, m); err != nil {
		return model.ModelSummary{}, err
	}
	r.logger.Info("model created", "model", m.Name, "provider", m.Provider, "by", actor.Username)
	return m.Summary(true), nil
}

// DeleteModel removes a model and every grant on it. Admin only.
func (r *Registry) DeleteModel(ctx context.Context, actor authz.Identity, name string) error {
	if err := authz.Check(actor, authz.ActionDeleteModel, authz.Target{}); err != nil {
		return err
	}
	m, err := r.db.GetModelByName(ctx, name)
	if err != nil {
		return err
	}
	revoked, err := r.db.DeleteModel(ctx, m.ID)
	if err != nil {
		return err
	}
	r.logger.Info("model deleted", "model", m.Name, "grants_revoked", revoked, "by", actor.Username)
	return nil
}

// ListModels returns every model. Provider config is only included for admins.
func (r *Registry) ListModels(ctx context.Context, actor authz.Identity) ([]model.ModelSummary, error) {
	models, err := r.db.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.ModelSummary, 0, len(models))
	for i := range models {
		out = append(out, models[i].Summary(actor.IsAdmin()))
	}
	return out, nil
}

// Get returns one model, redacted for non-admins.
func (r *Registry) Get(ctx context.Context, actor authz.Identity, name string) (model.ModelSummary, error) {
	m, err := r.db.GetModelByName(ctx, name)
	if err != nil {
		return model.ModelSummary{}, err
	}
	return m.Summary(actor.IsAdmin()), nil
}

// Resolve returns the full model for name. It is for the inference path and
// must not be exposed to callers.
func (r *Registry) Resolve(ctx context.Context, name string) (*model.AIModel, error) {
	return r.db.GetModelByName(ctx, name)
}
