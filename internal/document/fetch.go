package document

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/nikhilbhutani/documind/internal/models"
	"github.com/nikhilbhutani/documind/internal/retry"
)

// Fetcher downloads remote documents.
type Fetcher struct {
	client   *http.Client
	policy   retry.Policy
	maxBytes int64
}

func NewFetcher(policy retry.Policy, maxBytes int64) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: time.Minute},
		policy:   policy,
		maxBytes: maxBytes,
	}
}

// Fetch GETs rawURL. Client errors (4xx) are not retried.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid url %q", models.ErrValidation, rawURL)
	}

	data, err := retry.DoValue(ctx, f.policy, "fetch "+u.Host, func(ctx context.Context) ([]byte, error) {
		return f.get(ctx, u.String())
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrFetchFailure, rawURL, err)
	}
	return data, nil
}

func (f *Fetcher) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	body := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, retry.Permanent(fmt.Errorf("document exceeds %d bytes", f.maxBytes))
	}
	return data, nil
}

// FileNameFromURL returns the last path segment of rawURL, or "" if there
// is none.
func FileNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	return name
}
