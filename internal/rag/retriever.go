package rag

import (
	"context"
	"fmt"

	"github.com/nikhilbhutani/documind/internal/embedding"
	"github.com/nikhilbhutani/documind/internal/vectorstore"
)

type Retriever struct {
	index    *vectorstore.Index
	embedder embedding.Embedder
}

func NewRetriever(index *vectorstore.Index, embedder embedding.Embedder) *Retriever {
	return &Retriever{index: index, embedder: embedder}
}

type RetrieveOptions struct {
	UserID string
	Source string
	TopK   int
}

func (r *Retriever) Retrieve(ctx context.Context, query string, opts RetrieveOptions) ([]vectorstore.Match, error) {
	queryVec, err := r.embedder.Embed(ctx, query, embedding.RoleQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	return r.index.Query(ctx, queryVec, vectorstore.QueryOptions{
		TopK:   opts.TopK,
		UserID: opts.UserID,
		Source: opts.Source,
	})
}
