package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nikhilbhutani/documind/internal/config"
	"github.com/nikhilbhutani/documind/internal/retry"
)

type gateway struct {
	providers        map[string]Provider
	defaultProvider  string
	fallbackProvider string
	policy           retry.Policy
}

// NewGateway builds a provider client for every backend that has
// credentials configured. Clients are created once and are safe for
// concurrent use.
func NewGateway(cfg config.LLMConfig, policy retry.Policy) Gateway {
	var providers []Provider
	if cfg.OpenAIKey != "" {
		providers = append(providers, NewOpenAIProvider(cfg.OpenAIKey))
	}
	if cfg.GroqKey != "" {
		providers = append(providers, NewGroqProvider(cfg.GroqKey, cfg.GroqBaseURL))
	}
	if cfg.AnthropicKey != "" {
		providers = append(providers, NewAnthropicProvider(cfg.AnthropicKey))
	}
	if cfg.OllamaURL != "" {
		providers = append(providers, NewOllamaProvider(cfg.OllamaURL))
	}
	return NewGatewayWithProviders(providers, cfg.DefaultProvider, cfg.FallbackProvider, policy)
}

func NewGatewayWithProviders(providers []Provider, defaultProvider, fallbackProvider string, policy retry.Policy) Gateway {
	g := &gateway{
		providers:        make(map[string]Provider, len(providers)),
		defaultProvider:  defaultProvider,
		fallbackProvider: fallbackProvider,
		policy:           policy,
	}
	for _, p := range providers {
		g.providers[p.Name()] = p
	}
	return g
}

func (g *gateway) Provider(name string) (Provider, error) {
	p, ok := g.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	return p, nil
}

func (g *gateway) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	providerName := req.Provider
	if providerName == "" {
		providerName = g.defaultProvider
	}

	resp, err := g.chatWithRetry(ctx, providerName, req)
	if err != nil && ctx.Err() == nil && g.fallbackProvider != "" && g.fallbackProvider != providerName {
		slog.Warn("primary provider failed, trying fallback",
			"primary", providerName,
			"fallback", g.fallbackProvider,
			"error", err,
		)
		// The requested model belongs to the primary provider.
		req.Model = ""
		return g.chatWithRetry(ctx, g.fallbackProvider, req)
	}
	return resp, err
}

func (g *gateway) chatWithRetry(ctx context.Context, providerName string, req ChatRequest) (*ChatResponse, error) {
	p, err := g.Provider(providerName)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := retry.DoValue(ctx, g.policy, "chat "+providerName, func(ctx context.Context) (*ChatResponse, error) {
		return p.ChatCompletion(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	resp.Latency = time.Since(start)
	return resp, nil
}

func (g *gateway) Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	providerName := req.Provider
	if providerName == "" {
		providerName = g.defaultProvider
	}

	p, err := g.Provider(providerName)
	if err != nil {
		return nil, err
	}

	return retry.DoValue(ctx, g.policy, "embed "+providerName, func(ctx context.Context) (*EmbeddingResponse, error) {
		resp, err := p.GenerateEmbedding(ctx, req)
		if errors.Is(err, ErrEmbeddingsUnsupported) {
			return nil, retry.Permanent(err)
		}
		return resp, err
	})
}

func (g *gateway) ListModels() []ModelInfo {
	var models []ModelInfo
	for _, p := range g.providers {
		for _, m := range p.Models() {
			models = append(models, ModelInfo{Provider: p.Name(), Model: m})
		}
	}
	sort.Slice(models, func(i, j int) bool {
		if models[i].Provider != models[j].Provider {
			return models[i].Provider < models[j].Provider
		}
		return models[i].Model < models[j].Model
	})
	return models
}
