package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const defaultMaxBytes int64 = 5 << 20

// Fetcher retrieves the current manifest bytes.
type Fetcher interface {
	Fetch(ctx context.Context, previousETag string) (FetchResult, error)
}

// FetchResult carries fetched manifest bytes and caching metadata.
type FetchResult struct {
	Body         []byte
	ETag         string
	LastModified string
	NotModified  bool
}

// HTTPFetcher retrieves a manifest over HTTP with ETag revalidation.
type HTTPFetcher struct {
	url      string
	client   *http.Client
	maxBytes int64
}

// NewHTTPFetcher constructs an HTTPFetcher for the given URL.
func NewHTTPFetcher(url string, timeout time.Duration, maxBytes int64) (*HTTPFetcher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("manifest url must not be empty")
	}
	if timeout <= 0 {
		return nil, errors.New("timeout must be greater than zero")
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	return &HTTPFetcher{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
		maxBytes: maxBytes,
	}, nil
}

// Fetch downloads the manifest, sending If-None-Match when an ETag from
// a previous fetch is available.
func (f *HTTPFetcher) Fetch(ctx context.Context, previousETag string) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, http.NoBody)
	if err != nil {
		return FetchResult{}, fmt.Errorf("create request: %w", err)
	}
	if previousETag != "" {
		req.Header.Set("If-None-Match", previousETag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return FetchResult{}, fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return FetchResult{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			NotModified:  true,
		}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return FetchResult{}, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	body, err := readWithLimit(resp.Body, f.maxBytes)
	if err != nil {
		return FetchResult{}, err
	}
	if len(body) == 0 {
		return FetchResult{}, errors.New("manifest body is empty")
	}

	return FetchResult{
		Body:         body,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

// FileFetcher reads the manifest from local disk. NotModified is never
// reported; the fingerprint downstream deduplicates unchanged content.
type FileFetcher struct {
	path     string
	maxBytes int64
}

// NewFileFetcher constructs a FileFetcher for the given path.
func NewFileFetcher(path string, maxBytes int64) (*FileFetcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("manifest path must not be empty")
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &FileFetcher{path: path, maxBytes: maxBytes}, nil
}

// Fetch reads the manifest file.
func (f *FileFetcher) Fetch(ctx context.Context, _ string) (FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return FetchResult{}, err
	}

	file, err := os.Open(f.path)
	if err != nil {
		return FetchResult{}, fmt.Errorf("open manifest: %w", err)
	}
	defer file.Close()

	body, err := readWithLimit(file, f.maxBytes)
	if err != nil {
		return FetchResult{}, err
	}
	if len(body) == 0 {
		return FetchResult{}, errors.New("manifest body is empty")
	}
	return FetchResult{Body: body}, nil
}

func readWithLimit(r io.Reader, maxBytes int64) ([]byte, error) {
	limited := io.LimitReader(r, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("manifest body exceeds %d bytes", maxBytes)
	}
	return body, nil
}
