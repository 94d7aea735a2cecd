package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultMaxBytes     = 20_000_000
	DefaultFetchTimeout = 30 * time.Second
)

type HTTPFetcher struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
}

func NewHTTPFetcher(timeout time.Duration, maxBytes int64, userAgent string) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout: timeout,
		},
		maxBytes:  maxBytes,
		userAgent: strings.TrimSpace(userAgent),
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrUpstreamFetch, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: origin returned status=%d", ErrUpstreamFetch, resp.StatusCode)
	}

	return readCapped(resp.Body, resp.ContentLength, f.maxBytes)
}

// readCapped reads at most maxBytes from r. Bodies that declare or deliver more than
// maxBytes are rejected and whatever was read is dropped.
func readCapped(r io.Reader, declared, maxBytes int64) ([]byte, error) {
	if declared > maxBytes {
		return nil, fmt.Errorf("%w: %w: declared %d bytes (max %d)", ErrUpstreamFetch, ErrBodyTooLarge, declared, maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrUpstreamFetch, err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: %w: max %d bytes", ErrUpstreamFetch, ErrBodyTooLarge, maxBytes)
	}
	return data, nil
}

// SchemeFetcher routes a URL to a fetcher registered for its scheme, falling back to
// Default for everything else.
type SchemeFetcher struct {
	Default  Fetcher
	ByScheme map[string]Fetcher
}

func (f SchemeFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if u, err := url.Parse(rawURL); err == nil {
		if fetcher, ok := f.ByScheme[strings.ToLower(u.Scheme)]; ok {
			return fetcher.Fetch(ctx, rawURL)
		}
	}
	if f.Default == nil {
		return nil, fmt.Errorf("%w: no fetcher for %q", ErrUpstreamFetch, rawURL)
	}
	return f.Default.Fetch(ctx, rawURL)
}
