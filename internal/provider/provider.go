// Package provider performs inference calls against upstream LLM services.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"blacksheep/internal/config"
	"blacksheep/internal/model"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral completion request.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Result is the completion text and the tokens the provider reports.
type Result struct {
	Content string
	Usage   model.Consumption
}

// Client completes a request against the model's upstream provider.
type Client interface {
	Complete(ctx context.Context, m *model.AIModel, req Request) (Result, error)
}

// Router dispatches to the client registered for the model's provider.
type Router struct {
	clients map[model.Provider]Client
	logger  *slog.Logger
}

// NewRouter wires the built-in clients: Azure OpenAI and OpenAI over REST,
// Gemini through the generative-ai SDK.
func NewRouter(cfg config.ProviderConfig, logger *slog.Logger) *Router {
	logger = logger.With("component", "provider")
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &Router{
		clients: map[model.Provider]Client{
			model.ProviderAzureOpenAI: newChatClient(httpClient, flavorAzure, cfg.AzureAPIVersion, logger),
			model.ProviderOpenAI:      newChatClient(httpClient, flavorOpenAI, "", logger),
			model.ProviderGemini:      newGeminiClient(logger),
		},
		logger: logger,
	}
}

// Register replaces the client for p.
func (r *Router) Register(p model.Provider, c Client) {
	r.clients[p] = c
}

func (r *Router) Complete(ctx context.Context, m *model.AIModel, req Request) (Result, error) {
	c, ok := r.clients[m.Provider]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", model.ErrUnsupportedProvider, m.Provider)
	}
	return c.Complete(ctx, m, req)
}
