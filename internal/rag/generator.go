package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nikhilbhutani/documind/internal/llm"
	"github.com/nikhilbhutani/documind/internal/models"
	"github.com/nikhilbhutani/documind/internal/prompt"
	"github.com/nikhilbhutani/documind/internal/vectorstore"
)

// Generator asks the completion service to answer from retrieved context.
type Generator struct {
	gateway llm.Gateway
	opts    AnswerOptions
}

func NewGenerator(gw llm.Gateway, opts AnswerOptions) *Generator {
	return &Generator{gateway: gw, opts: opts}
}

func (g *Generator) Generate(ctx context.Context, question, contextText string) (string, error) {
	content, err := prompt.Answer.Render(map[string]string{
		"context":  contextText,
		"question": question,
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}

	resp, err := g.gateway.Chat(ctx, llm.ChatRequest{
		Provider:    g.opts.Provider,
		Model:       g.opts.Model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: content}},
		MaxTokens:   g.opts.MaxTokens,
		Temperature: g.opts.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrAnswerGenerationFailure, err)
	}
	slog.Debug("answer generated",
		"provider", resp.Provider,
		"model", resp.Model,
		"total_tokens", resp.Usage.Total(),
		"cost_usd", resp.Usage.CostUSD,
		"latency_ms", resp.Latency.Milliseconds(),
	)
	return resp.Content, nil
}

// BuildContext joins match texts in rank order.
func BuildContext(matches []vectorstore.Match) string {
	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Metadata.Text
	}
	return strings.Join(texts, "\n")
}
