package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nikhilbhutani/documind/internal/models"
	"github.com/nikhilbhutani/documind/internal/vectorstore"
)

func (p *pipeline) Answer(ctx context.Context, req AnswerRequest) (*AnswerResponse, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" || req.UserID == "" {
		return nil, fmt.Errorf("%w: question and user_id are required", models.ErrValidation)
	}

	matches, err := p.retriever.Retrieve(ctx, question, RetrieveOptions{
		UserID: req.UserID,
		TopK:   p.opts.TopK,
	})
	if err != nil {
		return nil, err
	}

	resp := &AnswerResponse{Question: req.Question, Sources: []Source{}}
	if len(matches) == 0 {
		resp.Answer = NotFoundAnswer
		return resp, nil
	}

	answer, err := p.generator.Generate(ctx, question, BuildContext(matches))
	if err != nil {
		return nil, err
	}
	resp.Answer = answer

	for _, m := range matches {
		resp.Sources = append(resp.Sources, Source{
			ID:      m.ID,
			Score:   m.Score,
			Source:  m.Metadata.Source,
			ChunkID: m.Metadata.ChunkID,
		})
	}

	slog.Debug("question answered", "user_id", req.UserID, "sources", len(resp.Sources))
	return resp, nil
}

// Search returns ranked passages for a question without generating an answer.
func (p *pipeline) Search(ctx context.Context, req SearchRequest) ([]vectorstore.Match, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" || req.UserID == "" {
		return nil, fmt.Errorf("%w: question and user_id are required", models.ErrValidation)
	}

	topK := req.TopK
	if topK <= 0 {
		topK = p.opts.TopK
	}
	topK = min(topK, p.opts.MaxTopK)

	return p.retriever.Retrieve(ctx, question, RetrieveOptions{UserID: req.UserID, TopK: topK})
}
