package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"blacksheep/internal/logger"
	"blacksheep/internal/model"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

type geminiClient struct {
	logger *slog.Logger
}

func newGeminiClient(logger *slog.Logger) *geminiClient {
	return &geminiClient{logger: logger}
}

func (g *geminiClient) Complete(ctx context.Context, m *model.AIModel, req Request) (Result, error) {
	cfg := m.ProviderConfig
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		g.logger.Error("failed to create gemini client", "model", m.Name, "error", err)
		return Result{}, fmt.Errorf("%w: model is misconfigured", model.ErrProviderFailure)
	}
	defer client.Close()

	gm := client.GenerativeModel(cfg.Deployment)
	if req.MaxTokens > 0 {
		gm.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	gm.SetTemperature(float32(req.Temperature))

	system, history, last, err := geminiTurns(req.Messages)
	if err != nil {
		return Result{}, err
	}
	gm.SystemInstruction = system
	cs := gm.StartChat()
	cs.History = history

	resp, err := cs.SendMessage(ctx, last...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		g.logger.Warn("gemini request failed", "model", m.Name, "key_suffix", logger.KeySuffix(cfg.APIKey), "error", err)
		return Result{}, fmt.Errorf("%w: upstream request failed", model.ErrProviderFailure)
	}
	return geminiResult(resp)
}

// geminiTurns maps chat messages onto a Gemini conversation: system
// messages become the system instruction, the final message is sent and
// everything before it is history. Assistant turns use the "model" role.
func geminiTurns(msgs []Message) (*genai.Content, []*genai.Content, []genai.Part, error) {
	var system []genai.Part
	var turns []*genai.Content
	for _, msg := range msgs {
		switch msg.Role {
		case "system":
			system = append(system, genai.Text(msg.Content))
		case "assistant", "model":
			turns = append(turns, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(msg.Content)}})
		default:
			turns = append(turns, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Content)}})
		}
	}
	if len(turns) == 0 {
		return nil, nil, nil, fmt.Errorf("%w: at least one non-system message is required", model.ErrInvalidInput)
	}

	var instruction *genai.Content
	if len(system) > 0 {
		instruction = genai.NewUserContent(system...)
	}
	last := turns[len(turns)-1]
	return instruction, turns[:len(turns)-1], last.Parts, nil
}

// geminiResult flattens the first candidate's text parts and maps usage
// metadata onto a Consumption.
func geminiResult(resp *genai.GenerateContentResponse) (Result, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Result{}, fmt.Errorf("%w: upstream returned no candidates", model.ErrProviderFailure)
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}

	result := Result{Content: b.String()}
	if meta := resp.UsageMetadata; meta != nil {
		result.Usage = model.Consumption{
			PromptTokens:     int64(meta.PromptTokenCount),
			CompletionTokens: int64(meta.CandidatesTokenCount),
			CachedTokens:     int64(meta.CachedContentTokenCount),
		}
	}
	return result, nil
}
