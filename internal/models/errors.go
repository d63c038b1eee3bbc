package models

import "errors"

// Kind classifies an error for callers that need to pick a response
// (HTTP status, retry, log level) without knowing every sentinel.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindUpstream
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream"
	case KindIntegrity:
		return "data_integrity"
	default:
		return "unknown"
	}
}

type kindError struct {
	msg  string
	kind Kind
}

func (e *kindError) Error() string { return e.msg }

func newError(kind Kind, msg string) error {
	return &kindError{msg: msg, kind: kind}
}

// Caller errors.
var (
	ErrValidation         = newError(KindValidation, "validation error")
	ErrUnsupportedFormat  = newError(KindValidation, "unsupported file format")
	ErrExtractionFailure  = newError(KindValidation, "text extraction failed")
	ErrEmptyDocument      = newError(KindValidation, "no text extracted from document")
	ErrInvalidChunkConfig = newError(KindValidation, "invalid chunk configuration")
)

// Lookup errors.
var (
	ErrSourceNotFound = newError(KindNotFound, "source not found")
	ErrFileNotFound   = newError(KindNotFound, "file not found")
)

// Upstream errors. These are candidates for retry.
var (
	ErrFetchFailure            = newError(KindUpstream, "fetch failed")
	ErrEmbeddingFailure        = newError(KindUpstream, "embedding failed")
	ErrIngestionFailure        = newError(KindUpstream, "ingestion failed")
	ErrAnswerGenerationFailure = newError(KindUpstream, "answer generation failed")
	ErrIndexFailure            = newError(KindUpstream, "vector index failure")
	ErrStorageFailure          = newError(KindUpstream, "blob storage failure")
	ErrStorageDeleteFailure    = newError(KindUpstream, "failed to delete file from storage")
	ErrVectorDeleteFailure     = newError(KindUpstream, "failed to delete vectors")
)

// Data integrity errors.
var (
	ErrInvalidEmbedding = newError(KindIntegrity, "invalid embedding")
)

// KindOf returns the kind of the first classified error in err's tree.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}
