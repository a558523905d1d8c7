// Package storage holds uploaded record files.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

// ErrObjectNotFound is returned by Get for a missing key.
var ErrObjectNotFound = errors.New("storage: object not found")

// ObjectStore provides access to object storage.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	// PublicURL is the stable URL stored on the record row.
	PublicURL(key string) string
}

// Options configures any backend.
type Options struct {
	Backend   string // minio | s3 | memory
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	PublicURL string
}

// New builds the backend selected by opts.Backend.
func New(ctx context.Context, opts Options) (ObjectStore, error) {
	switch opts.Backend {
	case "minio":
		return NewMinioStore(ctx, opts)
	case "s3":
		return NewS3Store(ctx, opts)
	case "memory":
		return NewMemoryStore(opts.PublicURL), nil
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", opts.Backend)
	}
}

// joinURL builds base/bucket/key with the key's path segments escaped.
func joinURL(base, bucket, key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.TrimRight(base, "/") + "/" + bucket + "/" + strings.Join(parts, "/")
}

func baseURL(opts Options) string {
	if opts.PublicURL != "" {
		return opts.PublicURL
	}
	scheme := "http"
	if opts.UseSSL {
		scheme = "https"
	}
	endpoint := strings.TrimPrefix(strings.TrimPrefix(opts.Endpoint, "https://"), "http://")
	return scheme + "://" + endpoint
}
