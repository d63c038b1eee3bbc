package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/documind/internal/config"
	"github.com/nikhilbhutani/documind/internal/document"
	"github.com/nikhilbhutani/documind/internal/embedding"
	"github.com/nikhilbhutani/documind/internal/llm"
	"github.com/nikhilbhutani/documind/internal/llm/llmtest"
	"github.com/nikhilbhutani/documind/internal/models"
	"github.com/nikhilbhutani/documind/internal/retry"
	"github.com/nikhilbhutani/documind/internal/vectorstore"
	"github.com/nikhilbhutani/documind/pkg/chunker"
)

const testDim = 256

var noRetry = retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}

type harness struct {
	pipeline Pipeline
	provider *llmtest.Provider
	store    *vectorstore.MemoryStore
	embedder embedding.Embedder
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	opts     Options
	wrap     func(embedding.Embedder) embedding.Embedder
	fetcher  Fetcher
	chatFunc func(llm.ChatRequest) (string, error)
}

func withChunking(maxWords, overlap int) harnessOption {
	return func(c *harnessConfig) { c.opts.Chunking = chunker.ChunkOptions{MaxWords: maxWords, Overlap: overlap} }
}

func withEmbedder(wrap func(embedding.Embedder) embedding.Embedder) harnessOption {
	return func(c *harnessConfig) { c.wrap = wrap }
}

func withFetcher(f Fetcher) harnessOption {
	return func(c *harnessConfig) { c.fetcher = f }
}

func withChat(fn func(llm.ChatRequest) (string, error)) harnessOption {
	return func(c *harnessConfig) { c.chatFunc = fn }
}

// answerFromContext plays the completion service: it repeats the context
// it was given.
func answerFromContext(req llm.ChatRequest) (string, error) {
	msg := req.Messages[len(req.Messages)-1].Content
	start := strings.Index(msg, "Context:\n")
	end := strings.Index(msg, "\n\nQuestion:")
	if start < 0 || end < start {
		return "", errors.New("unexpected prompt")
	}
	return "According to your documents: " + msg[start+len("Context:\n"):end], nil
}

func newHarness(t *testing.T, options ...harnessOption) *harness {
	t.Helper()

	cfg := harnessConfig{opts: DefaultOptions(), chatFunc: answerFromContext}
	cfg.opts.EmbedConcurrency = 2
	for _, o := range options {
		o(&cfg)
	}

	provider := llmtest.New("fake", testDim)
	provider.ChatFunc = cfg.chatFunc
	gw := llm.NewGatewayWithProviders([]llm.Provider{provider}, "fake", "", noRetry)

	var emb embedding.Embedder = embedding.NewService(gw, config.EmbeddingConfig{
		Provider:       "fake",
		Model:          "nomic-embed-text",
		Dimension:      testDim,
		DocumentPrefix: "search_document: ",
		QueryPrefix:    "search_query: ",
	}, nil)
	if cfg.wrap != nil {
		emb = cfg.wrap(emb)
	}

	store := vectorstore.NewMemoryStore()
	index := vectorstore.NewIndex(store, testDim, noRetry)

	return &harness{
		pipeline: NewPipeline(document.NewTextExtractor(), cfg.fetcher, emb, index, gw, cfg.opts),
		provider: provider,
		store:    store,
		embedder: emb,
	}
}

func (h *harness) ingest(t *testing.T, docID, userID, fileName, text string) *IngestResult {
	t.Helper()
	res, err := h.pipeline.Ingest(context.Background(), IngestRequest{
		DocumentID: docID,
		UserID:     userID,
		FileName:   fileName,
		Data:       []byte(text),
	})
	require.NoError(t, err)
	return res
}

func TestPipeline_PolicyExample(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.ingest(t, "d1", "u1", "policy.txt", "Refunds are processed within 30 days.")
	assert.Equal(t, 1, res.ChunksTotal)
	assert.Equal(t, -1, res.FailedChunk)

	answer, err := h.pipeline.Answer(ctx, AnswerRequest{Question: "How long do refunds take?", UserID: "u1"})
	require.NoError(t, err)
	assert.Contains(t, answer.Answer, "30 days")
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, Source{ID: "d1_0", Score: answer.Sources[0].Score, Source: "policy.txt", ChunkID: 0}, answer.Sources[0])

	req := h.provider.LastChatReq
	assert.Equal(t, 512, req.MaxTokens)
	assert.InDelta(t, 0.7, req.Temperature, 1e-9)

	chats := h.provider.ChatCalls()
	other, err := h.pipeline.Answer(ctx, AnswerRequest{Question: "How long do refunds take?", UserID: "u2"})
	require.NoError(t, err)
	assert.Equal(t, NotFoundAnswer, other.Answer)
	assert.Empty(t, other.Sources)
	assert.Equal(t, chats, h.provider.ChatCalls(), "no completion call without context")
}

func TestPipeline_RoundTripReturnsChunkIdentity(t *testing.T) {
	h := newHarness(t, withChunking(5, 1))

	text := "alpha bravo charlie delta echo foxtrot golf hotel india juliet kilo lima"
	res := h.ingest(t, "doc-7", "u1", "alphabet.txt", text)
	require.Equal(t, 3, res.ChunksTotal)
	assert.Equal(t, 3, h.store.Len())

	matches, err := h.pipeline.Search(context.Background(), SearchRequest{
		Question: "echo foxtrot golf hotel india",
		UserID:   "u1",
		TopK:     3,
	})
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "doc-7_1", matches[0].ID)
	assert.Equal(t, "alphabet.txt", matches[0].Metadata.Source)
	assert.Equal(t, 1, matches[0].Metadata.ChunkID)
	assert.Equal(t, 3, matches[0].Metadata.ChunksTotal)
	assert.Equal(t, "u1", matches[0].Metadata.UserID)
}

func TestPipeline_TenantIsolationWithSameFileName(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.ingest(t, "d1", "u1", "policy.txt", "Refunds are processed within 30 days.")
	h.ingest(t, "d2", "u2", "policy.txt", "Refunds are processed within 90 days.")

	for user, want := range map[string]string{"u1": "30 days", "u2": "90 days"} {
		matches, err := h.pipeline.Search(ctx, SearchRequest{Question: "refunds processed", UserID: user, TopK: 10})
		require.NoError(t, err)
		require.Len(t, matches, 1, user)
		assert.Equal(t, user, matches[0].Metadata.UserID)
		assert.Contains(t, matches[0].Metadata.Text, want)
	}
}

func TestPipeline_ReingestIsIdempotent(t *testing.T) {
	h := newHarness(t, withChunking(3, 1))

	text := "one two three four five six seven"
	first := h.ingest(t, "d1", "u1", "n.txt", text)
	second := h.ingest(t, "d1", "u1", "n.txt", text)

	assert.Equal(t, first.ChunksTotal, second.ChunksTotal)
	assert.Equal(t, first.ChunksTotal, h.store.Len())
}

type poisonEmbedder struct {
	embedding.Embedder
	poisoned atomic.Bool
}

func (e *poisonEmbedder) Embed(ctx context.Context, text string, role embedding.Role) ([]float32, error) {
	if e.poisoned.Load() && strings.Contains(text, "POISON") {
		return nil, fmt.Errorf("%w: encoder crashed", models.ErrEmbeddingFailure)
	}
	return e.Embedder.Embed(ctx, text, role)
}

func TestPipeline_PartialIngestionAndResume(t *testing.T) {
	var poison *poisonEmbedder
	h := newHarness(t, withChunking(3, 0), withEmbedder(func(e embedding.Embedder) embedding.Embedder {
		poison = &poisonEmbedder{Embedder: e}
		poison.poisoned.Store(true)
		return poison
	}))
	ctx := context.Background()

	req := IngestRequest{
		DocumentID: "d1",
		UserID:     "u1",
		FileName:   "notes.txt",
		Data:       []byte("a b c d e f POISON h i j k l"),
	}
	res, err := h.pipeline.Ingest(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrIngestionFailure)
	assert.ErrorIs(t, err, models.ErrEmbeddingFailure)
	assert.Contains(t, err.Error(), "chunk 2")

	require.NotNil(t, res)
	assert.Equal(t, 4, res.ChunksTotal)
	assert.Equal(t, 2, res.ChunksWritten)
	assert.Equal(t, 2, res.FailedChunk)
	assert.True(t, res.Partial())
	assert.Equal(t, 2, h.store.Len(), "the written prefix stays in the index")

	poison.poisoned.Store(false)
	req.StartChunk = res.FailedChunk
	res, err = h.pipeline.Ingest(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 4, res.ChunksWritten)
	assert.Equal(t, -1, res.FailedChunk)
	assert.False(t, res.Partial())
	assert.Equal(t, 4, h.store.Len())
}

func TestPipeline_TotalIngestionFailure(t *testing.T) {
	h := newHarness(t, withChunking(3, 0), withEmbedder(func(e embedding.Embedder) embedding.Embedder {
		p := &poisonEmbedder{Embedder: e}
		p.poisoned.Store(true)
		return p
	}))

	res, err := h.pipeline.Ingest(context.Background(), IngestRequest{
		DocumentID: "d1", UserID: "u1", FileName: "n.txt", Data: []byte("POISON b c d"),
	})
	require.ErrorIs(t, err, models.ErrIngestionFailure)
	require.NotNil(t, res)
	assert.Zero(t, res.ChunksWritten)
	assert.Equal(t, 0, res.FailedChunk)
	assert.False(t, res.Partial())
	assert.Zero(t, h.store.Len())
}

func TestPipeline_IngestRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  IngestRequest
		want error
	}{
		{"empty document", IngestRequest{DocumentID: "d", UserID: "u", FileName: "a.txt", Data: []byte("  \n\t ")}, models.ErrEmptyDocument},
		{"unsupported format", IngestRequest{DocumentID: "d", UserID: "u", FileName: "a.png", Data: []byte("x")}, models.ErrUnsupportedFormat},
		{"missing user", IngestRequest{DocumentID: "d", FileName: "a.txt", Data: []byte("x")}, models.ErrValidation},
		{"missing document id", IngestRequest{UserID: "u", FileName: "a.txt", Data: []byte("x")}, models.ErrValidation},
		{"no data", IngestRequest{DocumentID: "d", UserID: "u", FileName: "a.txt"}, models.ErrValidation},
		{"url without fetcher", IngestRequest{DocumentID: "d", UserID: "u", Source: "https://x/a.txt", IsURL: true}, models.ErrValidation},
		{"missing path", IngestRequest{DocumentID: "d", UserID: "u", Source: "/nonexistent/a.txt"}, models.ErrSourceNotFound},
		{"negative start", IngestRequest{DocumentID: "d", UserID: "u", FileName: "a.txt", Data: []byte("x"), StartChunk: -1}, models.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := h.pipeline.Ingest(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, res)
		})
	}
	assert.Zero(t, h.store.Len())
}

func TestPipeline_InvalidChunkConfig(t *testing.T) {
	h := newHarness(t, withChunking(5, 5))

	_, err := h.pipeline.Ingest(context.Background(), IngestRequest{
		DocumentID: "d", UserID: "u", FileName: "a.txt", Data: []byte("some words here"),
	})
	assert.ErrorIs(t, err, models.ErrInvalidChunkConfig)
	assert.Equal(t, models.KindValidation, models.KindOf(err))
}

type staticFetcher struct {
	data []byte
	err  error
	url  string
}

func (f *staticFetcher) Fetch(_ context.Context, rawURL string) ([]byte, error) {
	f.url = rawURL
	return f.data, f.err
}

func TestPipeline_IngestFromURL(t *testing.T) {
	f := &staticFetcher{data: []byte("Shipping takes five business days.")}
	h := newHarness(t, withFetcher(f))

	res, err := h.pipeline.Ingest(context.Background(), IngestRequest{
		DocumentID: "d9",
		UserID:     "u1",
		Source:     "https://example.com/docs/shipping.txt?v=2",
		IsURL:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunksTotal)
	assert.Equal(t, "https://example.com/docs/shipping.txt?v=2", f.url)

	matches, err := h.pipeline.Search(context.Background(), SearchRequest{Question: "shipping", UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "shipping.txt", matches[0].Metadata.Source)
}

func TestPipeline_IngestFetchFailure(t *testing.T) {
	f := &staticFetcher{err: fmt.Errorf("%w: status 404", models.ErrFetchFailure)}
	h := newHarness(t, withFetcher(f))

	_, err := h.pipeline.Ingest(context.Background(), IngestRequest{
		DocumentID: "d", UserID: "u", Source: "https://example.com/a.txt", IsURL: true,
	})
	assert.ErrorIs(t, err, models.ErrFetchFailure)
}

func TestPipeline_AnswerGenerationFailure(t *testing.T) {
	h := newHarness(t, withChat(func(llm.ChatRequest) (string, error) {
		return "", errors.New("rate limited")
	}))
	h.ingest(t, "d1", "u1", "policy.txt", "Refunds are processed within 30 days.")

	_, err := h.pipeline.Answer(context.Background(), AnswerRequest{Question: "refunds?", UserID: "u1"})
	require.ErrorIs(t, err, models.ErrAnswerGenerationFailure)
	assert.Equal(t, models.KindUpstream, models.KindOf(err))
}

func TestPipeline_AnswerValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.pipeline.Answer(ctx, AnswerRequest{Question: "   ", UserID: "u1"})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = h.pipeline.Answer(ctx, AnswerRequest{Question: "why?"})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = h.pipeline.Search(ctx, SearchRequest{Question: "why?"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestPipeline_AnswerUsesTopThreeInRankOrder(t *testing.T) {
	h := newHarness(t, withChunking(4, 0))
	text := "refund refund refund refund " +
		"refund refund policy text " +
		"refund shipping days later " +
		"warranty covers screen damage " +
		"warranty excludes water damage"
	h.ingest(t, "d1", "u1", "faq.txt", text)

	answer, err := h.pipeline.Answer(context.Background(), AnswerRequest{Question: "refund", UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, answer.Sources, 3)
	for i := 1; i < len(answer.Sources); i++ {
		assert.GreaterOrEqual(t, answer.Sources[i-1].Score, answer.Sources[i].Score)
	}
	assert.Equal(t, 0, answer.Sources[0].ChunkID)

	prompt := h.provider.LastChatReq.Messages[0].Content
	assert.Contains(t, prompt, "refund refund refund refund\nrefund refund policy text\nrefund shipping days later")
}

func TestPipeline_SearchCapsTopK(t *testing.T) {
	h := newHarness(t, withChunking(1, 0))
	h.ingest(t, "d1", "u1", "words.txt", strings.Repeat("word ", 80))

	matches, err := h.pipeline.Search(context.Background(), SearchRequest{Question: "word", UserID: "u1", TopK: 1000})
	require.NoError(t, err)
	assert.Len(t, matches, 50)
}

func TestChunkText_TokenCounts(t *testing.T) {
	chunks, err := ChunkText("one two three four five six", chunker.ChunkOptions{MaxWords: 3, Overlap: 0})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "four five six", chunks[1].Content)
	assert.Equal(t, 1, chunks[1].Index)
	assert.Equal(t, 4, chunks[1].TokenCount)
}

func TestRecordID(t *testing.T) {
	assert.Equal(t, "3f1c_12", RecordID("3f1c", 12))
}
