package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/documind/internal/cache"
	"github.com/nikhilbhutani/documind/internal/config"
	"github.com/nikhilbhutani/documind/internal/llm"
	"github.com/nikhilbhutani/documind/internal/models"
)

// Role selects the instruction prefix the embedding model expects.
type Role string

const (
	RoleDocument Role = "document"
	RoleQuery    Role = "query"
)

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, text string, role Role) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, role Role) ([][]float32, error)
	Dimension() int
}

// Cache stores query embeddings between requests.
type Cache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

type Service struct {
	gateway        llm.Gateway
	provider       string
	model          string
	dimension      int
	documentPrefix string
	queryPrefix    string
	cache          Cache
	cacheTTL       time.Duration
}

// NewService wraps the gateway's embedding call. cache may be nil.
func NewService(gw llm.Gateway, cfg config.EmbeddingConfig, c Cache) *Service {
	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = 768
	}
	return &Service{
		gateway:        gw,
		provider:       cfg.Provider,
		model:          model,
		dimension:      dim,
		documentPrefix: cfg.DocumentPrefix,
		queryPrefix:    cfg.QueryPrefix,
		cache:          c,
		cacheTTL:       cfg.CacheTTL,
	}
}

func (s *Service) Dimension() int { return s.dimension }

func (s *Service) prefix(role Role) string {
	if role == RoleQuery {
		return s.queryPrefix
	}
	return s.documentPrefix
}

func (s *Service) Embed(ctx context.Context, text string, role Role) ([]float32, error) {
	var key string
	if role == RoleQuery && s.cache != nil {
		key = cache.Key("emb", s.model, string(role), text)
		var cached []float32
		err := s.cache.Get(ctx, key, &cached)
		if err == nil && len(cached) == s.dimension {
			return cached, nil
		}
		if err != nil && !errors.Is(err, cache.ErrMiss) {
			slog.Debug("embedding cache read failed", "error", err)
		}
	}

	vecs, err := s.EmbedBatch(ctx, []string{text}, role)
	if err != nil {
		return nil, err
	}

	if key != "" {
		if err := s.cache.Set(ctx, key, vecs[0], s.cacheTTL); err != nil {
			slog.Debug("embedding cache write failed", "error", err)
		}
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in groups of 100 and checks every vector's
// dimension.
func (s *Service) EmbedBatch(ctx context.Context, texts []string, role Role) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	prefix := s.prefix(role)
	const batchSize = 100
	all := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += batchSize {
		end := min(i+batchSize, len(texts))

		input := make([]string, 0, end-i)
		for _, t := range texts[i:end] {
			input = append(input, prefix+t)
		}

		resp, err := s.gateway.Embed(ctx, llm.EmbeddingRequest{
			Provider: s.provider,
			Model:    s.model,
			Input:    input,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: batch %d: %w", models.ErrEmbeddingFailure, i/batchSize, err)
		}
		if len(resp.Embeddings) != len(input) {
			return nil, fmt.Errorf("%w: got %d vectors for %d inputs", models.ErrInvalidEmbedding, len(resp.Embeddings), len(input))
		}
		for j, v := range resp.Embeddings {
			if len(v) != s.dimension {
				return nil, fmt.Errorf("%w: input %d has dimension %d, want %d", models.ErrInvalidEmbedding, i+j, len(v), s.dimension)
			}
		}
		all = append(all, resp.Embeddings...)
	}

	return all, nil
}
