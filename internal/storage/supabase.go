package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SupabaseStorage is an ObjectStore backed by the Supabase Storage REST
// API, authenticated with a service-role key.
type SupabaseStorage struct {
	endpoint string
	key      string
	client   *http.Client
}

func NewSupabaseStorage(supabaseURL, serviceKey string) *SupabaseStorage {
	return &SupabaseStorage{
		endpoint: strings.TrimRight(supabaseURL, "/") + "/storage/v1/object",
		key:      serviceKey,
		client:   &http.Client{Timeout: 2 * time.Minute},
	}
}

// StatusError is a non-2xx storage response other than 404.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s failed (%d)", e.Op, e.Status)
	}
	return fmt.Sprintf("%s failed (%d): %s", e.Op, e.Status, e.Body)
}

func (s *SupabaseStorage) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	resp, err := s.do(ctx, "upload", http.MethodPost, bucket, path, bytes.NewReader(data), func(h http.Header) {
		h.Set("Content-Type", contentType)
		h.Set("x-upsert", "true")
	})
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// Download returns the object body; the caller closes it.
func (s *SupabaseStorage) Download(ctx context.Context, bucket, path string) (io.ReadCloser, error) {
	resp, err := s.do(ctx, "download", http.MethodGet, bucket, path, nil, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (s *SupabaseStorage) Delete(ctx context.Context, bucket, path string) error {
	resp, err := s.do(ctx, "delete", http.MethodDelete, bucket, path, nil, nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// do sends one object request. On success the response body is left open.
func (s *SupabaseStorage) do(ctx context.Context, op, method, bucket, path string, body io.Reader, header func(http.Header)) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.objectURL(bucket, path), body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: build request: %w", op, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.key)
	if header != nil {
		header(req.Header)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, path, err)
	}
	if resp.StatusCode/100 == 2 {
		return resp, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s %s: %w", op, path, ErrObjectNotFound)
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return nil, &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
}

// objectURL escapes each path segment but keeps the separators.
func (s *SupabaseStorage) objectURL(bucket, path string) string {
	segs := strings.Split(path, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return s.endpoint + "/" + url.PathEscape(bucket) + "/" + strings.Join(segs, "/")
}
