package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ErrEmbeddingsUnsupported is returned by chat-only providers.
var ErrEmbeddingsUnsupported = errors.New("provider does not support embeddings")

const (
	anthropicDefaultModel     = "claude-3-haiku-20240307"
	anthropicDefaultMaxTokens = 1024
)

// AnthropicProvider serves chat through the Messages API. Anthropic has no
// embedding endpoint.
type AnthropicProvider struct {
	client anthropic.Client
}

func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Models() []string {
	return []string{anthropicDefaultModel, "claude-sonnet-4-20250514"}
}

func (p *AnthropicProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = anthropicDefaultModel
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
	}
	// System prompts travel outside the message list.
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return &ChatResponse{
		Provider: p.Name(),
		Model:    string(resp.Model),
		Content:  sb.String(),
		Usage:    usageFor(model, int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)),
	}, nil
}

func (p *AnthropicProvider) GenerateEmbedding(context.Context, EmbeddingRequest) (*EmbeddingResponse, error) {
	return nil, fmt.Errorf("anthropic: %w", ErrEmbeddingsUnsupported)
}
