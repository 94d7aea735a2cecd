package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrObjectTooLarge = errors.New("object exceeds size limit")
)

type Config struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	UseSSL   bool
}

type Client struct {
	minio  *minio.Client
	bucket string
}

func NewClient(cfg Config) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	return &Client{
		minio:  mc,
		bucket: cfg.Bucket,
	}, nil
}

func (c *Client) Bucket() string {
	return c.bucket
}

// CheckBucket verifies the source bucket is reachable. Sources are read-only, so a
// missing bucket is reported instead of created.
func (c *Client) CheckBucket(ctx context.Context) error {
	exists, err := c.minio.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", c.bucket)
	}
	return nil
}

// ReadObjectLimited returns the object body, refusing objects larger than maxBytes
// both by their stated size and by what is actually streamed.
func (c *Client) ReadObjectLimited(ctx context.Context, objectKey string, maxBytes int64) ([]byte, error) {
	info, err := c.minio.StatObject(ctx, c.bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchObject" {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, objectKey)
		}
		return nil, fmt.Errorf("stat object %s: %w", objectKey, err)
	}
	if info.Size > maxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes (max %d)", ErrObjectTooLarge, objectKey, info.Size, maxBytes)
	}

	obj, err := c.minio.GetObject(ctx, c.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", objectKey, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", objectKey, err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: %s (max %d)", ErrObjectTooLarge, objectKey, maxBytes)
	}
	return data, nil
}
