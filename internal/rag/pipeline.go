package rag

import (
	"context"

	"github.com/nikhilbhutani/documind/internal/document"
	"github.com/nikhilbhutani/documind/internal/embedding"
	"github.com/nikhilbhutani/documind/internal/llm"
	"github.com/nikhilbhutani/documind/internal/vectorstore"
	"github.com/nikhilbhutani/documind/pkg/chunker"
)

// NotFoundAnswer is returned when no indexed passage matches a question.
const NotFoundAnswer = "I couldn't find relevant information in the documents."

type Pipeline interface {
	Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error)
	Answer(ctx context.Context, req AnswerRequest) (*AnswerResponse, error)
	Search(ctx context.Context, req SearchRequest) ([]vectorstore.Match, error)
}

// Fetcher downloads documents given by URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// IngestRequest names one document to index. Exactly one of Data, a path
// in Source, or a URL in Source (with IsURL) supplies the bytes.
type IngestRequest struct {
	DocumentID string
	UserID     string
	FileName   string
	Source     string
	IsURL      bool
	Data       []byte
	StartChunk int // resume from this chunk index
}

type IngestResult struct {
	DocumentID    string `json:"document_id"`
	ChunksTotal   int    `json:"chunks_total"`
	ChunksWritten int    `json:"chunks_written"`
	FailedChunk   int    `json:"failed_chunk"` // -1 when every chunk was written
}

// Partial reports whether some but not all chunks are in the index.
func (r *IngestResult) Partial() bool {
	return r != nil && r.FailedChunk >= 0 && r.ChunksWritten > 0
}

type AnswerRequest struct {
	Question string `json:"question"`
	UserID   string `json:"user_id"`
}

type Source struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Source  string  `json:"source"`
	ChunkID int     `json:"chunk"`
}

type AnswerResponse struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Sources  []Source `json:"sources"`
}

type SearchRequest struct {
	Question string `json:"question"`
	UserID   string `json:"user_id"`
	TopK     int    `json:"top_k,omitempty"`
}

type AnswerOptions struct {
	Provider    string
	Model       string
	MaxTokens   int
	Temperature float64
}

type Options struct {
	Chunking         chunker.ChunkOptions
	EmbedConcurrency int
	TopK             int
	MaxTopK          int
	Answer           AnswerOptions
}

func DefaultOptions() Options {
	return Options{
		Chunking:         chunker.DefaultOptions(),
		EmbedConcurrency: 4,
		TopK:             3,
		MaxTopK:          50,
		Answer:           AnswerOptions{MaxTokens: 512, Temperature: 0.7},
	}
}

type pipeline struct {
	extractor document.TextExtractor
	fetcher   Fetcher
	embedder  embedding.Embedder
	index     *vectorstore.Index
	retriever *Retriever
	generator *Generator
	opts      Options
}

// NewPipeline wires ingestion and retrieval over shared clients. fetcher
// may be nil, in which case URL sources are rejected.
func NewPipeline(extractor document.TextExtractor, fetcher Fetcher, embedder embedding.Embedder, index *vectorstore.Index, gw llm.Gateway, opts Options) Pipeline {
	if opts.EmbedConcurrency <= 0 {
		opts.EmbedConcurrency = 1
	}
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	if opts.MaxTopK < opts.TopK {
		opts.MaxTopK = opts.TopK
	}
	return &pipeline{
		extractor: extractor,
		fetcher:   fetcher,
		embedder:  embedder,
		index:     index,
		retriever: NewRetriever(index, embedder),
		generator: NewGenerator(gw, opts.Answer),
		opts:      opts,
	}
}
