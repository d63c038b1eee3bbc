package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/nikhilbhutani/documind/internal/document"
	"github.com/nikhilbhutani/documind/internal/embedding"
	"github.com/nikhilbhutani/documind/internal/models"
	"github.com/nikhilbhutani/documind/internal/vectorstore"
)

// RecordID is the vector id of a document's chunk.
func RecordID(documentID string, chunkIndex int) string {
	return documentID + "_" + strconv.Itoa(chunkIndex)
}

// Ingest extracts, chunks, embeds and indexes one document. Chunks are
// written in index order, so on failure the result reports how far the
// index got and the error names the chunk that failed. A non-nil result
// is returned alongside the error once the document has been chunked.
func (p *pipeline) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if req.DocumentID == "" || req.UserID == "" {
		return nil, fmt.Errorf("%w: document id and user_id are required", models.ErrValidation)
	}
	if req.StartChunk < 0 {
		return nil, fmt.Errorf("%w: start chunk must not be negative", models.ErrValidation)
	}

	src, err := p.source(ctx, req)
	if err != nil {
		return nil, err
	}

	text, err := p.extractor.Extract(ctx, src)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: %s", models.ErrEmptyDocument, src.FileName)
	}

	chunks, err := ChunkText(text, p.opts.Chunking)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrEmptyDocument, src.FileName)
	}

	result := &IngestResult{
		DocumentID:    req.DocumentID,
		ChunksTotal:   len(chunks),
		ChunksWritten: min(req.StartChunk, len(chunks)),
		FailedChunk:   -1,
	}

	for start := result.ChunksWritten; start < len(chunks); start += p.opts.EmbedConcurrency {
		if err := ctx.Err(); err != nil {
			result.FailedChunk = start
			return result, fmt.Errorf("%w: chunk %d: %w", models.ErrIngestionFailure, start, err)
		}

		end := min(start+p.opts.EmbedConcurrency, len(chunks))
		window := chunks[start:end]

		vectors, failed, embedErr := p.embedWindow(ctx, window)

		records := make([]vectorstore.Record, 0, failed)
		for i := 0; i < failed; i++ {
			ch := window[i]
			records = append(records, vectorstore.Record{
				ID:        RecordID(req.DocumentID, ch.Index),
				Embedding: vectors[i],
				Metadata: vectorstore.Metadata{
					Source:      src.FileName,
					ChunkID:     ch.Index,
					Text:        ch.Content,
					DocumentID:  req.DocumentID,
					ChunksTotal: len(chunks),
				},
				TokenCount: ch.TokenCount,
			})
		}
		if err := p.index.UpsertRecords(ctx, req.UserID, records); err != nil {
			result.FailedChunk = start
			return result, fmt.Errorf("%w: chunk %d: %w", models.ErrIngestionFailure, start, err)
		}
		result.ChunksWritten = start + failed

		if embedErr != nil {
			result.FailedChunk = start + failed
			slog.Warn("ingestion stopped",
				"document_id", req.DocumentID,
				"user_id", req.UserID,
				"chunk", result.FailedChunk,
				"chunks_total", result.ChunksTotal,
				"error", embedErr,
			)
			return result, fmt.Errorf("%w: chunk %d: %w", models.ErrIngestionFailure, result.FailedChunk, embedErr)
		}
	}

	slog.Info("document ingested",
		"document_id", req.DocumentID,
		"user_id", req.UserID,
		"file_name", src.FileName,
		"chunks", result.ChunksTotal,
		"resumed_from", req.StartChunk,
	)
	return result, nil
}

// embedWindow embeds window concurrently. It returns the vectors, the
// length of the successfully embedded prefix and the error that ended it.
func (p *pipeline) embedWindow(ctx context.Context, window []ChunkResult) ([][]float32, int, error) {
	vectors := make([][]float32, len(window))
	errs := make([]error, len(window))

	g, gctx := errgroup.WithContext(ctx)
	for i, ch := range window {
		g.Go(func() error {
			v, err := p.embedder.Embed(gctx, ch.Content, embedding.RoleDocument)
			if err != nil {
				errs[i] = err
				return err
			}
			vectors[i] = v
			return nil
		})
	}
	firstErr := g.Wait()
	if firstErr == nil {
		return vectors, len(window), nil
	}

	for i, err := range errs {
		if err == nil {
			continue
		}
		// Siblings cancelled by the group report the error that caused it.
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			err = firstErr
		}
		return vectors, i, err
	}
	return vectors, len(window), nil
}

func (p *pipeline) source(ctx context.Context, req IngestRequest) (document.Source, error) {
	switch {
	case req.IsURL:
		if p.fetcher == nil {
			return document.Source{}, fmt.Errorf("%w: url sources are not enabled", models.ErrValidation)
		}
		name := req.FileName
		if name == "" {
			name = document.FileNameFromURL(req.Source)
		}
		data, err := p.fetcher.Fetch(ctx, req.Source)
		if err != nil {
			return document.Source{}, err
		}
		return document.Source{Data: data, FileName: name}, nil

	case req.Data != nil:
		return document.Source{Data: req.Data, FileName: req.FileName}, nil

	case req.Source != "":
		name := req.FileName
		if name == "" {
			name = filepath.Base(req.Source)
		}
		return document.Source{Path: req.Source, FileName: name}, nil

	default:
		return document.Source{}, fmt.Errorf("%w: no document data", models.ErrValidation)
	}
}
