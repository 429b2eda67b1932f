package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"blacksheep/internal/logger"
	"blacksheep/internal/model"
)

const defaultOpenAIEndpoint = "https://api.openai.com/v1"

type flavor int

const (
	flavorAzure flavor = iota
	flavorOpenAI
)

// chatClient speaks the chat completions wire format shared by Azure OpenAI
// and OpenAI.
type chatClient struct {
	http       *http.Client
	flavor     flavor
	apiVersion string
	logger     *slog.Logger
}

func newChatClient(httpClient *http.Client, f flavor, apiVersion string, logger *slog.Logger) *chatClient {
	return &chatClient{http: httpClient, flavor: f, apiVersion: apiVersion, logger: logger}
}

type chatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens        int64 `json:"prompt_tokens"`
		CompletionTokens    int64 `json:"completion_tokens"`
		PromptTokensDetails *struct {
			CachedTokens int64 `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
}

func (c *chatClient) target(cfg model.ProviderConfig) (string, error) {
	switch c.flavor {
	case flavorAzure:
		if cfg.Endpoint == "" || cfg.Deployment == "" {
			return "", errors.New("endpoint and deployment are required")
		}
		version := cfg.APIVersion
		if version == "" {
			version = c.apiVersion
		}
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			strings.TrimRight(cfg.Endpoint, "/"), url.PathEscape(cfg.Deployment), url.QueryEscape(version)), nil
	default:
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOpenAIEndpoint
		}
		return strings.TrimRight(endpoint, "/") + "/chat/completions", nil
	}
}

func (c *chatClient) Complete(ctx context.Context, m *model.AIModel, req Request) (Result, error) {
	cfg := m.ProviderConfig
	target, err := c.target(cfg)
	if err != nil {
		c.logger.Error("invalid provider config", "model", m.Name, "error", err)
		return Result{}, fmt.Errorf("%w: model is misconfigured", model.ErrProviderFailure)
	}

	body := chatRequest{Messages: req.Messages, MaxTokens: req.MaxTokens, Temperature: req.Temperature}
	if c.flavor == flavorOpenAI {
		body.Model = cfg.Deployment
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		c.logger.Error("failed to build upstream request", "model", m.Name, "error", err)
		return Result{}, fmt.Errorf("%w: model is misconfigured", model.ErrProviderFailure)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.flavor == flavorAzure {
		httpReq.Header.Set("api-key", cfg.APIKey)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		c.logger.Warn("upstream request failed", "model", m.Name, "key_suffix", logger.KeySuffix(cfg.APIKey), "error", err)
		return Result{}, fmt.Errorf("%w: upstream unreachable", model.ErrProviderFailure)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading upstream response", model.ErrProviderFailure)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("upstream returned an error", "model", m.Name, "status", resp.StatusCode,
			"key_suffix", logger.KeySuffix(cfg.APIKey), "body", truncate(string(raw), 512))
		return Result{}, fmt.Errorf("%w: upstream returned status %d", model.ErrProviderFailure, resp.StatusCode)
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		c.logger.Warn("malformed upstream response", "model", m.Name, "error", err)
		return Result{}, fmt.Errorf("%w: malformed upstream response", model.ErrProviderFailure)
	}
	if len(decoded.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: upstream returned no choices", model.ErrProviderFailure)
	}

	var result Result
	result.Content = decoded.Choices[0].Message.Content
	if u := decoded.Usage; u != nil {
		result.Usage.PromptTokens = u.PromptTokens
		result.Usage.CompletionTokens = u.CompletionTokens
		if u.PromptTokensDetails != nil {
			result.Usage.CachedTokens = u.PromptTokensDetails.CachedTokens
		}
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
