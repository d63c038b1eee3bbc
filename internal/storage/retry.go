package storage

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/nikhilbhutani/documind/internal/retry"
)

type retryingStore struct {
	next   BlobStore
	policy retry.Policy
}

// WithRetry retries every BlobStore call under policy. Missing objects and
// client errors are reported at once.
func WithRetry(next BlobStore, policy retry.Policy) BlobStore {
	return &retryingStore{next: next, policy: policy}
}

func final(err error) error {
	var se *StatusError
	switch {
	case errors.Is(err, ErrObjectNotFound):
		return retry.Permanent(err)
	case errors.As(err, &se) && se.Status/100 == 4 && se.Status != http.StatusTooManyRequests:
		return retry.Permanent(err)
	}
	return err
}

func (s *retryingStore) Create(ctx context.Context, bucket string, obj Object, data []byte) (*Object, error) {
	return retry.DoValue(ctx, s.policy, "blob create", func(ctx context.Context) (*Object, error) {
		o, err := s.next.Create(ctx, bucket, obj, data)
		return o, final(err)
	})
}

func (s *retryingStore) List(ctx context.Context, bucket string) ([]Object, error) {
	return retry.DoValue(ctx, s.policy, "blob list", func(ctx context.Context) ([]Object, error) {
		return s.next.List(ctx, bucket)
	})
}

func (s *retryingStore) ListByUser(ctx context.Context, bucket, userID string) ([]Object, error) {
	return retry.DoValue(ctx, s.policy, "blob list user", func(ctx context.Context) ([]Object, error) {
		return s.next.ListByUser(ctx, bucket, userID)
	})
}

func (s *retryingStore) Get(ctx context.Context, bucket, id string) (*Object, error) {
	return retry.DoValue(ctx, s.policy, "blob get", func(ctx context.Context) (*Object, error) {
		obj, err := s.next.Get(ctx, bucket, id)
		return obj, final(err)
	})
}

func (s *retryingStore) Open(ctx context.Context, bucket, id string) (io.ReadCloser, error) {
	return retry.DoValue(ctx, s.policy, "blob open", func(ctx context.Context) (io.ReadCloser, error) {
		rc, err := s.next.Open(ctx, bucket, id)
		return rc, final(err)
	})
}

func (s *retryingStore) Delete(ctx context.Context, bucket, id string) error {
	return retry.Do(ctx, s.policy, "blob delete", func(ctx context.Context) error {
		return final(s.next.Delete(ctx, bucket, id))
	})
}
