// Package llmtest provides an in-process llm.Provider for tests.
package llmtest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/nikhilbhutani/documind/internal/llm"
)

// Provider embeds text as a normalized bag of hashed words, so texts that
// share words score higher under cosine similarity. Chat answers through
// ChatFunc, or echoes the last user message when ChatFunc is nil.
type Provider struct {
	ProviderName string
	Dim          int
	ChatFunc     func(req llm.ChatRequest) (string, error)
	EmbedErr     error

	mu          sync.Mutex
	embedCalls  int
	chatCalls   int
	LastChatReq llm.ChatRequest
}

func New(name string, dim int) *Provider {
	return &Provider{ProviderName: name, Dim: dim}
}

func (p *Provider) Name() string     { return p.ProviderName }
func (p *Provider) Models() []string { return []string{"fake"} }

func (p *Provider) ChatCompletion(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	p.chatCalls++
	p.LastChatReq = req
	fn := p.ChatFunc
	p.mu.Unlock()

	if fn != nil {
		content, err := fn(req)
		if err != nil {
			return nil, err
		}
		return &llm.ChatResponse{Provider: p.ProviderName, Model: req.Model, Content: content}, nil
	}

	content := ""
	for _, m := range req.Messages {
		if m.Role == llm.RoleUser {
			content = m.Content
		}
	}
	return &llm.ChatResponse{Provider: p.ProviderName, Model: req.Model, Content: content}, nil
}

func (p *Provider) GenerateEmbedding(_ context.Context, req llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	p.mu.Lock()
	p.embedCalls++
	p.mu.Unlock()

	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	out := make([][]float32, len(req.Input))
	for i, text := range req.Input {
		out[i] = Vector(text, p.Dim)
	}
	return &llm.EmbeddingResponse{Provider: p.ProviderName, Model: req.Model, Embeddings: out}, nil
}

func (p *Provider) EmbedCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.embedCalls
}

func (p *Provider) ChatCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chatCalls
}

// Vector is the embedding Provider returns for text. Instruction prefixes
// ending in ':' are skipped so query and document roles share a space.
func Vector(text string, dim int) []float32 {
	v := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != ':' && r != '_'
	})
	for _, w := range words {
		if strings.HasSuffix(w, ":") {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[int(h.Sum32())%dim]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}
