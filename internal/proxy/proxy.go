// Package proxy runs authorized, metered inference calls.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"blacksheep/internal/authz"
	"blacksheep/internal/events"
	"blacksheep/internal/model"
	"blacksheep/internal/provider"
)

const (
	defaultMaxTokens   = 100
	defaultTemperature = 0.7
)

// ModelResolver looks up a model by name, unredacted.
type ModelResolver interface {
	Resolve(ctx context.Context, name string) (*model.AIModel, error)
}

// LevelReader reports a user's access level on a model.
type LevelReader interface {
	LevelOf(ctx context.Context, userID, modelID uint) (model.AccessLevel, error)
}

// UsageRecorder charges consumption to a user.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, userID uint, m *model.AIModel, c model.Consumption) error
}

// UserLookup loads a user's current ledger state.
type UserLookup interface {
	GetUserByID(ctx context.Context, id uint) (*model.User, error)
}

// CallRequest is an inference request. Either Prompt or Messages is required.
type CallRequest struct {
	ModelName   string             `json:"model_name"`
	Prompt      string             `json:"prompt"`
	Messages    []provider.Message `json:"messages"`
	MaxTokens   *int               `json:"max_tokens"`
	Temperature *float64           `json:"temperature"`
}

// CallResponse is the completion together with what was charged.
type CallResponse struct {
	Model    string            `json:"model"`
	Response string            `json:"response"`
	Usage    model.Consumption `json:"usage"`
}

// Gateway wires the gate, the ledgers and the provider together.
type Gateway struct {
	models   ModelResolver
	levels   LevelReader
	usage    UsageRecorder
	users    UserLookup
	provider provider.Client
	events   events.Publisher
	timeout  time.Duration
	logger   *slog.Logger
}

// Deps are the collaborators of a Gateway.
type Deps struct {
	Models   ModelResolver
	Levels   LevelReader
	Usage    UsageRecorder
	Users    UserLookup
	Provider provider.Client
	Events   events.Publisher
}

func NewGateway(deps Deps, timeout time.Duration, logger *slog.Logger) *Gateway {
	pub := deps.Events
	if pub == nil {
		pub = events.Noop{}
	}
	return &Gateway{
		models:   deps.Models,
		levels:   deps.Levels,
		usage:    deps.Usage,
		users:    deps.Users,
		provider: deps.Provider,
		events:   pub,
		timeout:  timeout,
		logger:   logger.With("component", "proxy"),
	}
}

func (r CallRequest) toProvider() (provider.Request, error) {
	msgs := r.Messages
	if len(msgs) == 0 {
		if strings.TrimSpace(r.Prompt) == "" {
			return provider.Request{}, fmt.Errorf("%w: prompt or messages is required", model.ErrInvalidInput)
		}
		msgs = []provider.Message{{Role: "user", Content: r.Prompt}}
	}
	out := provider.Request{Messages: msgs, MaxTokens: defaultMaxTokens, Temperature: defaultTemperature}
	if r.MaxTokens != nil {
		if *r.MaxTokens <= 0 {
			return provider.Request{}, fmt.Errorf("%w: max_tokens must be positive", model.ErrInvalidInput)
		}
		out.MaxTokens = *r.MaxTokens
	}
	if r.Temperature != nil {
		if *r.Temperature < 0 || *r.Temperature > 2 {
			return provider.Request{}, fmt.Errorf("%w: temperature must be between 0 and 2", model.ErrInvalidInput)
		}
		out.Temperature = *r.Temperature
	}
	return out, nil
}

// Call authorizes the caller, runs the completion and charges the tokens the
// provider reports. Nothing is charged unless the provider call succeeds; if
// the charge would exceed the limit the completion is withheld.
func (g *Gateway) Call(ctx context.Context, caller authz.Identity, req CallRequest) (*CallResponse, error) {
	if strings.TrimSpace(req.ModelName) == "" {
		return nil, fmt.Errorf("%w: model_name is required", model.ErrInvalidInput)
	}
	preq, err := req.toProvider()
	if err != nil {
		return nil, err
	}

	m, err := g.models.Resolve(ctx, req.ModelName)
	if err != nil {
		return nil, err
	}
	level, err := g.levels.LevelOf(ctx, caller.UserID, m.ID)
	if err != nil {
		return nil, err
	}
	user, err := g.users.GetUserByID(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}

	decision := authz.Authorize(caller, authz.ActionCallModel, authz.Target{
		Level:      level,
		UsageCount: user.UsageCount,
		UsageLimit: user.UsageLimit,
	})
	if !decision.Allowed {
		g.logger.Info("call denied", "username", caller.Username, "model", m.Name, "reason", decision.Reason)
		return nil, decision.Err()
	}

	pctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	start := time.Now()
	result, err := g.provider.Complete(pctx, m, preq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				g.logger.Warn("client disconnected during call", "username", caller.Username, "model", m.Name)
				return nil, ctx.Err()
			}
			g.logger.Warn("provider timed out", "model", m.Name, "timeout", g.timeout)
			return nil, fmt.Errorf("%w: upstream timed out", model.ErrProviderFailure)
		}
		g.logger.Warn("provider call failed", "username", caller.Username, "model", m.Name, "error", err)
		return nil, err
	}

	// The provider has consumed resources; charge even if the client has gone.
	chargeCtx := context.WithoutCancel(ctx)
	if err := g.usage.RecordUsage(chargeCtx, caller.UserID, m, result.Usage); err != nil {
		if errors.Is(err, model.ErrLimitExceeded) {
			g.logger.Info("completion withheld, usage limit exceeded", "username", caller.Username, "model", m.Name,
				"tokens", result.Usage.Total(), "usage_count", user.UsageCount, "usage_limit", user.UsageLimit)
		} else {
			g.logger.Error("failed to record usage", "username", caller.Username, "model", m.Name, "error", err)
		}
		return nil, err
	}

	ev := events.UsageEvent{
		UserID:           caller.UserID,
		Username:         caller.Username,
		Model:            m.Name,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		CachedTokens:     result.Usage.CachedTokens,
		TotalTokens:      result.Usage.Total(),
	}
	if err := g.events.PublishUsage(chargeCtx, ev); err != nil {
		g.logger.Warn("failed to publish usage event", "username", caller.Username, "error", err)
	}

	g.logger.Info("call completed", "username", caller.Username, "model", m.Name,
		"prompt_tokens", result.Usage.PromptTokens, "completion_tokens", result.Usage.CompletionTokens,
		"cached_tokens", result.Usage.CachedTokens, "latency", time.Since(start))
	return &CallResponse{Model: m.Name, Response: result.Content, Usage: result.Usage}, nil
}
