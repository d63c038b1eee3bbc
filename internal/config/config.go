package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Chunking  ChunkingConfig
	Retrieval RetrievalConfig
	Storage   StorageConfig
	Retry     RetryConfig
	Queue     QueueConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	MaxUploadBytes int64
	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
	// HNSW scan settings applied to every similarity search.
	HNSWEFSearch      int
	HNSWIterativeScan string // "off", "strict_order" or "relaxed_order"
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LLMConfig struct {
	OpenAIKey        string
	AnthropicKey     string
	GroqKey          string
	GroqBaseURL      string
	OllamaURL        string
	DefaultProvider  string
	DefaultModel     string
	FallbackProvider string
	MaxRetries       int
}

type EmbeddingConfig struct {
	Provider       string
	Model          string
	Dimension      int
	DocumentPrefix string
	QueryPrefix    string
	Concurrency    int
	CacheTTL       time.Duration
}

type ChunkingConfig struct {
	MaxWords int
	Overlap  int
}

type RetrievalConfig struct {
	TopK              int
	AnswerProvider    string
	AnswerModel       string
	AnswerMaxTokens   int
	AnswerTemperature float64
}

type StorageConfig struct {
	Backend     string // "supabase" or "memory"
	SupabaseURL string
	SupabaseKey string
	Bucket      string
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

type QueueConfig struct {
	Concurrency   int
	ReconcileCron string
}

type LogConfig struct {
	Level slog.Level
}

// Load reads configuration from the environment. A .env file in the working
// directory, if present, is loaded first without overriding set variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	l := &loader{}
	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           l.int("SERVER_PORT", 8080),
			MaxUploadBytes: int64(l.int("MAX_UPLOAD_BYTES", 32<<20)),
			RateLimitRPS:   l.float("RATE_LIMIT_RPS", 20),
			RateLimitBurst: l.int("RATE_LIMIT_BURST", 40),
			CORSOrigins:    getList("CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       l.int("DB_MAX_CONNS", 20),
			MinConns:       l.int("DB_MIN_CONNS", 2),
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),

			HNSWEFSearch:      l.int("HNSW_EF_SEARCH", 100),
			HNSWIterativeScan: getEnv("HNSW_ITERATIVE_SCAN", "strict_order"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       l.int("REDIS_DB", 0),
		},
		LLM: LLMConfig{
			OpenAIKey:        getEnv("OPENAI_API_KEY", ""),
			AnthropicKey:     getEnv("ANTHROPIC_API_KEY", ""),
			GroqKey:          getEnv("GROQ_API_KEY", ""),
			GroqBaseURL:      getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
			OllamaURL:        getEnv("OLLAMA_URL", "http://localhost:11434"),
			DefaultProvider:  getEnv("LLM_DEFAULT_PROVIDER", "groq"),
			DefaultModel:     getEnv("LLM_DEFAULT_MODEL", "llama-3.1-8b-instant"),
			FallbackProvider: getEnv("LLM_FALLBACK_PROVIDER", ""),
			MaxRetries:       l.int("LLM_MAX_RETRIES", 2),
		},
		Embedding: EmbeddingConfig{
			Provider:       getEnv("EMBEDDING_PROVIDER", "ollama"),
			Model:          getEnv("EMBEDDING_MODEL", "nomic-embed-text"),
			Dimension:      l.int("EMBEDDING_DIMENSION", 768),
			DocumentPrefix: getEnv("EMBEDDING_DOCUMENT_PREFIX", "search_document: "),
			QueryPrefix:    getEnv("EMBEDDING_QUERY_PREFIX", "search_query: "),
			Concurrency:    l.int("EMBED_CONCURRENCY", 4),
			CacheTTL:       l.duration("EMBED_CACHE_TTL", 24*time.Hour),
		},
		Chunking: ChunkingConfig{
			MaxWords: l.int("CHUNK_MAX_WORDS", 500),
			Overlap:  l.int("CHUNK_OVERLAP", 50),
		},
		Retrieval: RetrievalConfig{
			TopK:              l.int("RETRIEVAL_TOP_K", 3),
			AnswerProvider:    getEnv("ANSWER_PROVIDER", ""),
			AnswerModel:       getEnv("ANSWER_MODEL", ""),
			AnswerMaxTokens:   l.int("ANSWER_MAX_TOKENS", 512),
			AnswerTemperature: l.float("ANSWER_TEMPERATURE", 0.7),
		},
		Storage: StorageConfig{
			Backend:     getEnv("STORAGE_BACKEND", "supabase"),
			SupabaseURL: getEnv("SUPABASE_URL", ""),
			SupabaseKey: getEnv("SUPABASE_SERVICE_KEY", ""),
			Bucket:      getEnv("STORAGE_BUCKET", "documents"),
		},
		Retry: RetryConfig{
			MaxAttempts: l.int("RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:   l.duration("RETRY_BASE_DELAY", 500*time.Millisecond),
			MaxDelay:    l.duration("RETRY_MAX_DELAY", 5*time.Second),
		},
		Queue: QueueConfig{
			Concurrency:   l.int("WORKER_CONCURRENCY", 10),
			ReconcileCron: getEnv("RECONCILE_CRON", "@every 1h"),
		},
		Log: LogConfig{
			Level: l.level("LOG_LEVEL", slog.LevelInfo),
		},
	}

	if len(l.errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(l.errs, "; "))
	}
	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Storage.Backend == "supabase" {
		if c.Storage.SupabaseURL == "" {
			missing = append(missing, "SUPABASE_URL")
		}
		if c.Storage.SupabaseKey == "" {
			missing = append(missing, "SUPABASE_SERVICE_KEY")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}

	if c.Chunking.MaxWords <= 0 || c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.MaxWords {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be in [0, CHUNK_MAX_WORDS (%d))", c.Chunking.Overlap, c.Chunking.MaxWords)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSION must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("RETRIEVAL_TOP_K must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Database.HNSWEFSearch < 0 || c.Database.HNSWEFSearch > 1000 {
		return fmt.Errorf("HNSW_EF_SEARCH must be in [0, 1000], got %d", c.Database.HNSWEFSearch)
	}
	switch c.Database.HNSWIterativeScan {
	case "", "off", "strict_order", "relaxed_order":
	default:
		return fmt.Errorf("HNSW_ITERATIVE_SCAN must be off, strict_order or relaxed_order, got %q", c.Database.HNSWIterativeScan)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getList splits a comma-separated variable, dropping blank entries.
func getList(key string, fallback []string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// loader parses typed variables and collects every parse error so a bad
// environment is reported in one go.
type loader struct {
	errs []string
}

func (l *loader) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Sprintf("%s: %v", key, err))
		return fallback
	}
	return n
}

func (l *loader) float(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		l.errs = append(l.errs, fmt.Sprintf("%s: %v", key, err))
		return fallback
	}
	return f
}

func (l *loader) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Sprintf("%s: %v", key, err))
		return fallback
	}
	return d
}

func (l *loader) level(key string, fallback slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		l.errs = append(l.errs, fmt.Sprintf("%s: %v", key, err))
		return fallback
	}
	return lvl
}
