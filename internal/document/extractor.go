package document

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/nikhilbhutani/documind/internal/models"
	"github.com/nikhilbhutani/documind/pkg/textextract"
)

// Source is a document to extract: a filesystem path, or in-memory bytes
// whose format is taken from FileName.
type Source struct {
	Path     string
	Data     []byte
	FileName string
}

type TextExtractor interface {
	Extract(ctx context.Context, src Source) (string, error)
	SupportedTypes() []string
}

type extractor struct{}

func NewTextExtractor() TextExtractor {
	return extractor{}
}

func (extractor) Extract(ctx context.Context, src Source) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var (
		result *textextract.ExtractedText
		err    error
	)
	if src.Path != "" {
		if _, statErr := os.Stat(src.Path); statErr != nil {
			if errors.Is(statErr, os.ErrNotExist) {
				return "", fmt.Errorf("%w: %s", models.ErrSourceNotFound, src.Path)
			}
			return "", fmt.Errorf("%w: stat %s: %w", models.ErrExtractionFailure, src.Path, statErr)
		}
		result, err = textextract.ExtractFile(src.Path)
	} else {
		result, err = textextract.ExtractBytes(src.Data, src.FileName)
	}
	if err != nil {
		return "", translate(err)
	}
	return result.Content, nil
}

func (extractor) SupportedTypes() []string {
	return textextract.SupportedTypes()
}

func translate(err error) error {
	switch {
	case errors.Is(err, textextract.ErrUnsupportedFormat):
		return fmt.Errorf("%w: %w", models.ErrUnsupportedFormat, err)
	case errors.Is(err, textextract.ErrMissingHint):
		return fmt.Errorf("%w: %w", models.ErrValidation, err)
	default:
		return fmt.Errorf("%w: %w", models.ErrExtractionFailure, err)
	}
}
