package rag

import (
	"errors"
	"fmt"

	"github.com/nikhilbhutani/documind/internal/models"
	"github.com/nikhilbhutani/documind/pkg/chunker"
	"github.com/nikhilbhutani/documind/pkg/tokenizer"
)

type ChunkResult struct {
	Content    string
	Index      int
	TokenCount int
}

func ChunkText(text string, opts chunker.ChunkOptions) ([]ChunkResult, error) {
	chunks, err := chunker.New().Chunk(text, opts)
	if err != nil {
		if errors.Is(err, chunker.ErrInvalidConfig) {
			return nil, fmt.Errorf("%w: %w", models.ErrInvalidChunkConfig, err)
		}
		return nil, err
	}

	results := make([]ChunkResult, len(chunks))
	for i, ch := range chunks {
		results[i] = ChunkResult{
			Content:    ch.Content,
			Index:      ch.Index,
			TokenCount: tokenizer.CountTokens(ch.Content),
		}
	}
	return results, nil
}
