package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

const DefaultGroqBaseURL = "https://api.groq.com/openai/v1"

// OpenAIProvider talks to the OpenAI API or any endpoint that speaks the
// same protocol, such as Groq.
type OpenAIProvider struct {
	client       *openai.Client
	name         string
	defaultModel string
	models       []string
}

func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		client:       openai.NewClient(apiKey),
		name:         "openai",
		defaultModel: "gpt-4o-mini",
		models:       []string{"gpt-4o", "gpt-4o-mini", "text-embedding-3-small"},
	}
}

func NewGroqProvider(apiKey, baseURL string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = DefaultGroqBaseURL
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(cfg),
		name:         "groq",
		defaultModel: "llama-3.1-8b-instant",
		models:       []string{"llama-3.1-8b-instant", "llama-3.3-70b-versatile"},
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Models() []string { return p.models }

func (p *OpenAIProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("%s chat: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s chat: response has no choices", p.name)
	}

	return &ChatResponse{
		Provider: p.name,
		Model:    resp.Model,
		Content:  resp.Choices[0].Message.Content,
		Usage:    usageFor(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}, nil
}

func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	model := req.Model
	if model == "" {
		model = "text-embedding-3-small"
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: req.Input,
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, fmt.Errorf("%s embedding: %w", p.name, err)
	}

	embeddings := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(embeddings) {
			return nil, fmt.Errorf("%s embedding: index %d out of range", p.name, d.Index)
		}
		embeddings[d.Index] = d.Embedding
	}

	return &EmbeddingResponse{
		Provider:   p.name,
		Model:      model,
		Embeddings: embeddings,
		Usage:      usageFor(model, resp.Usage.PromptTokens, 0),
	}, nil
}
