package chunker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig is returned when the options would never advance the
// cursor or produce empty chunks.
var ErrInvalidConfig = errors.New("invalid chunk options")

type Chunker interface {
	Chunk(text string, opts ChunkOptions) ([]TextChunk, error)
}

type ChunkOptions struct {
	MaxWords int // words per chunk
	Overlap  int // words shared by consecutive chunks
}

type TextChunk struct {
	Content string
	Index   int
	Start   int // word offset, inclusive
	End     int // word offset, exclusive
}

func DefaultOptions() ChunkOptions {
	return ChunkOptions{
		MaxWords: 500,
		Overlap:  50,
	}
}

func (o ChunkOptions) Validate() error {
	if o.MaxWords <= 0 {
		return fmt.Errorf("%w: max words must be positive, got %d", ErrInvalidConfig, o.MaxWords)
	}
	if o.Overlap < 0 {
		return fmt.Errorf("%w: overlap must not be negative, got %d", ErrInvalidConfig, o.Overlap)
	}
	if o.Overlap >= o.MaxWords {
		return fmt.Errorf("%w: overlap %d must be smaller than max words %d", ErrInvalidConfig, o.Overlap, o.MaxWords)
	}
	return nil
}

type wordChunker struct{}

func New() Chunker {
	return &wordChunker{}
}

// Chunk splits text on whitespace into windows of opts.MaxWords words, each
// window starting opts.MaxWords-opts.Overlap words after the previous one.
func (c *wordChunker) Chunk(text string, opts ChunkOptions) ([]TextChunk, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil
	}

	step := opts.MaxWords - opts.Overlap
	chunks := make([]TextChunk, 0, len(words)/step+1)
	for start := 0; start < len(words); start += step {
		end := min(start+opts.MaxWords, len(words))
		chunks = append(chunks, TextChunk{
			Content: strings.Join(words[start:end], " "),
			Index:   len(chunks),
			Start:   start,
			End:     end,
		})
	}
	return chunks, nil
}

// Split is a convenience wrapper returning only chunk contents.
func Split(text string, opts ChunkOptions) ([]string, error) {
	chunks, err := New().Chunk(text, opts)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(chunks))
	for i, ch := range chunks {
		out[i] = ch.Content
	}
	return out, nil
}
