package vectorstore

import (
	"context"
	"fmt"

	"github.com/nikhilbhutani/documind/internal/models"
	"github.com/nikhilbhutani/documind/internal/retry"
)

type QueryOptions struct {
	TopK   int
	UserID string
	Source string
}

// Index guards a Backend: it checks ids and dimensions, stamps the owning
// user on every record, scopes reads and deletes to one user and retries
// backend calls.
type Index struct {
	backend   Backend
	dimension int
	policy    retry.Policy
}

func NewIndex(backend Backend, dimension int, policy retry.Policy) *Index {
	return &Index{backend: backend, dimension: dimension, policy: policy}
}

func (x *Index) Dimension() int { return x.dimension }

func (x *Index) Upsert(ctx context.Context, id string, vector []float32, md Metadata, userID string) error {
	return x.UpsertRecords(ctx, userID, []Record{{ID: id, Embedding: vector, Metadata: md}})
}

// UpsertRecords writes records for userID. Nothing is written if any
// record is invalid. Re-upserting an id overwrites it.
func (x *Index) UpsertRecords(ctx context.Context, userID string, records []Record) error {
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", models.ErrValidation)
	}
	if len(records) == 0 {
		return nil
	}

	stamped := make([]Record, len(records))
	for i, r := range records {
		if r.ID == "" {
			return fmt.Errorf("%w: record %d has no id", models.ErrValidation, i)
		}
		if err := x.checkVector(r.Embedding); err != nil {
			return fmt.Errorf("record %s: %w", r.ID, err)
		}
		r.Metadata.UserID = userID
		stamped[i] = r
	}

	err := retry.Do(ctx, x.policy, "vector upsert", func(ctx context.Context) error {
		return x.backend.Upsert(ctx, stamped)
	})
	if err != nil {
		return fmt.Errorf("%w: upsert %d records: %w", models.ErrIndexFailure, len(stamped), err)
	}
	return nil
}

func (x *Index) Query(ctx context.Context, vector []float32, opts QueryOptions) ([]Match, error) {
	if opts.TopK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive", models.ErrValidation)
	}
	if err := x.checkVector(vector); err != nil {
		return nil, err
	}

	filter := Filter{UserID: opts.UserID, Source: opts.Source}
	matches, err := retry.DoValue(ctx, x.policy, "vector query", func(ctx context.Context) ([]Match, error) {
		return x.backend.Query(ctx, vector, opts.TopK, filter)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", models.ErrIndexFailure, err)
	}
	if len(matches) > opts.TopK {
		matches = matches[:opts.TopK]
	}
	return matches, nil
}

func (x *Index) ListForUser(ctx context.Context, userID string) ([]FileSummary, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", models.ErrValidation)
	}
	files, err := retry.DoValue(ctx, x.policy, "vector list", func(ctx context.Context) ([]FileSummary, error) {
		return x.backend.ListFiles(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list files: %w", models.ErrIndexFailure, err)
	}
	return files, nil
}

// DeleteForUserAndSource removes every record of userID whose source is
// fileName and returns how many were removed.
func (x *Index) DeleteForUserAndSource(ctx context.Context, userID, fileName string) (int, error) {
	if fileName == "" {
		return 0, fmt.Errorf("%w: file name is required", models.ErrValidation)
	}
	return x.delete(ctx, Filter{UserID: userID, Source: fileName})
}

func (x *Index) DeleteDocument(ctx context.Context, userID, documentID string) (int, error) {
	if documentID == "" {
		return 0, fmt.Errorf("%w: document id is required", models.ErrValidation)
	}
	return x.delete(ctx, Filter{UserID: userID, DocumentID: documentID})
}

func (x *Index) delete(ctx context.Context, filter Filter) (int, error) {
	if filter.UserID == "" {
		return 0, fmt.Errorf("%w: user_id is required", models.ErrValidation)
	}
	n, err := retry.DoValue(ctx, x.policy, "vector delete", func(ctx context.Context) (int, error) {
		return x.backend.Delete(ctx, filter)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: delete: %w", models.ErrIndexFailure, err)
	}
	return n, nil
}

// Users lists every user that owns at least one record.
func (x *Index) Users(ctx context.Context) ([]string, error) {
	users, err := retry.DoValue(ctx, x.policy, "vector users", x.backend.Users)
	if err != nil {
		return nil, fmt.Errorf("%w: list users: %w", models.ErrIndexFailure, err)
	}
	return users, nil
}

func (x *Index) checkVector(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", models.ErrInvalidEmbedding)
	}
	if len(v) != x.dimension {
		return fmt.Errorf("%w: dimension %d, want %d", models.ErrInvalidEmbedding, len(v), x.dimension)
	}
	return nil
}
