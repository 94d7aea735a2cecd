package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/dunamismax/twoframe/internal/storage"
)

const SchemeObjectStore = "s3"

type objectReader interface {
	Bucket() string
	ReadObjectLimited(ctx context.Context, objectKey string, maxBytes int64) ([]byte, error)
}

// ObjectStoreFetcher serves s3://<bucket>/<key> URLs from the configured bucket.
type ObjectStoreFetcher struct {
	Storage  objectReader
	MaxBytes int64
}

func NewObjectStoreFetcher(client *storage.Client, maxBytes int64) ObjectStoreFetcher {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return ObjectStoreFetcher{Storage: client, MaxBytes: maxBytes}
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if f.Storage == nil {
		return nil, fmt.Errorf("%w: storage client is required", ErrUpstreamFetch)
	}

	bucket, key, err := parseObjectURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamFetch, err)
	}
	if bucket != f.Storage.Bucket() {
		return nil, fmt.Errorf("%w: bucket %q is not served", ErrUpstreamFetch, bucket)
	}

	maxBytes := f.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	data, err := f.Storage.ReadObjectLimited(ctx, key, maxBytes)
	if err != nil {
		if errors.Is(err, storage.ErrObjectTooLarge) {
			return nil, fmt.Errorf("%w: %w: %w", ErrUpstreamFetch, ErrBodyTooLarge, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstreamFetch, err)
	}
	return data, nil
}

func parseObjectURL(rawURL string) (string, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse object url: %w", err)
	}
	if !strings.EqualFold(u.Scheme, SchemeObjectStore) {
		return "", "", fmt.Errorf("expected %s:// url, got %q", SchemeObjectStore, u.Scheme)
	}

	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", errors.New("expected url format s3://<bucket>/<key>")
	}
	return u.Host, key, nil
}
