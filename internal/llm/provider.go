// Package llm routes chat and embedding calls to hosted and local model
// providers behind one Gateway.
package llm

import (
	"context"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Provider is one model backend. Implementations must be safe for
// concurrent use.
type Provider interface {
	Name() string
	Models() []string
	ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error)
}

// Gateway picks a provider per request and retries transient failures.
type Gateway interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error)
	Provider(name string) (Provider, error)
	ListModels() []ModelInfo
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest asks for a single completion. Empty Provider and Model mean
// the gateway and provider defaults; zero MaxTokens and Temperature leave
// the provider's own defaults.
type ChatRequest struct {
	Provider    string
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Usage is the token accounting a provider reports for one call.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

type ChatResponse struct {
	Provider string
	Model    string
	Content  string
	Usage    Usage
	// Latency covers every attempt the gateway made.
	Latency time.Duration
}

type EmbeddingRequest struct {
	Provider string
	Model    string
	Input    []string
}

// EmbeddingResponse holds one vector per input, in input order.
type EmbeddingResponse struct {
	Provider   string
	Model      string
	Embeddings [][]float32
	Usage      Usage
}

type ModelInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}
