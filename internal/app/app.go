// Package app builds the process-wide services shared by the api and
// worker binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/documind/internal/cache"
	"github.com/nikhilbhutani/documind/internal/catalog"
	"github.com/nikhilbhutani/documind/internal/config"
	"github.com/nikhilbhutani/documind/internal/database"
	"github.com/nikhilbhutani/documind/internal/document"
	"github.com/nikhilbhutani/documind/internal/embedding"
	"github.com/nikhilbhutani/documind/internal/llm"
	"github.com/nikhilbhutani/documind/internal/queue"
	"github.com/nikhilbhutani/documind/internal/rag"
	"github.com/nikhilbhutani/documind/internal/retry"
	"github.com/nikhilbhutani/documind/internal/storage"
	"github.com/nikhilbhutani/documind/internal/vectorstore"
	"github.com/nikhilbhutani/documind/pkg/chunker"
)

type App struct {
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Gateway  llm.Gateway
	Pipeline rag.Pipeline
	Catalog  *catalog.Service
	Queue    *queue.Client
}

// RetryPolicy converts the configured retry settings.
func RetryPolicy(cfg config.RetryConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
	}
}

// PipelineOptions converts the chunking, embedding and retrieval settings.
func PipelineOptions(cfg *config.Config) rag.Options {
	opts := rag.DefaultOptions()
	opts.Chunking = chunker.ChunkOptions{MaxWords: cfg.Chunking.MaxWords, Overlap: cfg.Chunking.Overlap}
	opts.EmbedConcurrency = cfg.Embedding.Concurrency
	opts.TopK = cfg.Retrieval.TopK
	opts.Answer = rag.AnswerOptions{
		Provider:    cfg.Retrieval.AnswerProvider,
		Model:       cfg.Retrieval.AnswerModel,
		MaxTokens:   cfg.Retrieval.AnswerMaxTokens,
		Temperature: cfg.Retrieval.AnswerTemperature,
	}
	return opts
}

// New connects to Postgres and Redis, applies migrations and wires the
// pipeline and catalog.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.RunMigrations(ctx, db, database.Source(cfg.Database.MigrationsPath)); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable, embedding cache and task queue degraded", "error", err)
	}

	policy := RetryPolicy(cfg.Retry)
	llmPolicy := policy
	llmPolicy.MaxAttempts = cfg.LLM.MaxRetries + 1

	gw := llm.NewGateway(cfg.LLM, llmPolicy)
	embedder := embedding.NewService(gw, cfg.Embedding, cache.NewCache(rdb))
	index := vectorstore.NewIndex(vectorstore.NewPgVectorStore(db, vectorstore.SearchOptions{
		EFSearch:      cfg.Database.HNSWEFSearch,
		IterativeScan: cfg.Database.HNSWIterativeScan,
	}), cfg.Embedding.Dimension, policy)
	fetcher := document.NewFetcher(policy, cfg.Server.MaxUploadBytes)
	pipeline := rag.NewPipeline(document.NewTextExtractor(), fetcher, embedder, index, gw, PipelineOptions(cfg))

	blobs, err := blobStore(cfg.Storage, db)
	if err != nil {
		rdb.Close()
		db.Close()
		return nil, err
	}
	qc := queue.NewClient(cfg.Redis)

	return &App{
		DB:       db,
		Redis:    rdb,
		Gateway:  gw,
		Pipeline: pipeline,
		Catalog:  catalog.NewService(storage.WithRetry(blobs, policy), index, pipeline, fetcher, qc, cfg.Storage.Bucket),
		Queue:    qc,
	}, nil
}

func blobStore(cfg config.StorageConfig, db *pgxpool.Pool) (storage.BlobStore, error) {
	switch cfg.Backend {
	case "supabase":
		return storage.NewCatalogStore(db, storage.NewSupabaseStorage(cfg.SupabaseURL, cfg.SupabaseKey)), nil
	case "memory":
		slog.Warn("using in-memory blob storage, files are lost on restart")
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.Backend)
	}
}

func (a *App) Close() {
	if err := a.Queue.Close(); err != nil {
		slog.Warn("close queue client", "error", err)
	}
	if err := a.Redis.Close(); err != nil {
		slog.Warn("close redis", "error", err)
	}
	a.DB.Close()
}
