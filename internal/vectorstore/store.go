package vectorstore

import (
	"context"
)

// Metadata is stored alongside every vector.
type Metadata struct {
	Source     string `json:"source"`
	ChunkID    int    `json:"chunk_id"`
	Text       string `json:"text"`
	UserID     string `json:"user_id"`
	DocumentID string `json:"document_id"`
	// ChunksTotal is how many chunks the whole document splits into.
	ChunksTotal int `json:"chunks_total"`
}

type Record struct {
	ID         string
	Embedding  []float32
	Metadata   Metadata
	TokenCount int
}

// Match is one query hit. Score is cosine similarity, higher is closer.
type Match struct {
	ID       string   `json:"id"`
	Score    float64  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// Filter restricts queries and deletes. Empty fields match everything.
type Filter struct {
	UserID     string
	Source     string
	DocumentID string
}

// FileSummary is one row of the per-user metadata index.
type FileSummary struct {
	DocumentID string `json:"document_id"`
	FileName   string `json:"file_name"`
	ChunkCount int    `json:"chunk_count"`
	// ChunksTotal is the expected chunk count; zero when unknown.
	ChunksTotal int `json:"chunks_total"`
}

// Backend is a similarity-search store. Implementations trust their input;
// Index does the validation.
type Backend interface {
	Upsert(ctx context.Context, records []Record) error
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error)
	ListFiles(ctx context.Context, userID string) ([]FileSummary, error)
	Delete(ctx context.Context, filter Filter) (int, error)
	Users(ctx context.Context) ([]string, error)
}
