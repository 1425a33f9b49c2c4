package repository

import (
	"context"
	"errors"
	"time"
)

// ErrBlobNotFound is returned by BlobStore.Get for an unknown key
var ErrBlobNotFound = errors.New("blob not found")

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// BlobInfo describes one stored blob
type BlobInfo struct {
	Key         string
	Size        int64
	ContentType string
	StoredAt    time.Time
}

// BlobStore is the content tier. It holds no authoritative metadata and is
// addressed only through keys recorded in a CacheRecord.
type BlobStore interface {
	// Get returns ErrBlobNotFound for an unknown key
	Get(ctx context.Context, key string) ([]byte, error)
	// Put overwrites any existing blob under key
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Delete is a no-op for an unknown key
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Ping(ctx context.Context) error
	Name() string
}
