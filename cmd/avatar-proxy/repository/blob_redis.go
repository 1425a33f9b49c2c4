package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	rediscommon "github.com/lyzr/avatar-proxy/common/redis"
)

const (
	blobDataPrefix = "blobdata:"
	blobMetaPrefix = "blobmeta:"
	scanBatch      = 500
)

// RedisBlobStore keeps blob bytes in string keys with a companion hash
// for content type, size and write time
type RedisBlobStore struct {
	redis *rediscommon.Client
}

// NewRedisBlobStore creates a Redis-backed blob store
func NewRedisBlobStore(redis *rediscommon.Client) *RedisBlobStore {
	return &RedisBlobStore{redis: redis}
}

func (s *RedisBlobStore) Name() string { return "redis" }

func (s *RedisBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.redis.GetBytes(ctx, blobDataPrefix+key)
	if errors.Is(err, rediscommon.ErrNotFound) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *RedisBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	pipe := s.redis.NewPipeline()
	pipe.Set(ctx, blobDataPrefix+key, data, 0)
	pipe.HashSet(ctx, blobMetaPrefix+key, map[string]interface{}{
		"content_type": contentType,
		"size":         len(data),
		"stored_at":    time.Now().UnixMilli(),
	})
	if err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put blob %s: %w", key, err)
	}
	return nil
}

func (s *RedisBlobStore) Delete(ctx context.Context, key string) error {
	return s.redis.Delete(ctx, blobDataPrefix+key, blobMetaPrefix+key)
}

// List walks the metadata hashes under prefix with SCAN
func (s *RedisBlobStore) List(ctx context.Context, prefix string) ([]BlobInfo, error) {
	match := blobMetaPrefix + escapeGlob(prefix) + "*"

	var out []BlobInfo
	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, match, scanBatch)
		if err != nil {
			return nil, err
		}
		for _, metaKey := range keys {
			fields, err := s.redis.GetAllHash(ctx, metaKey)
			if err != nil {
				return nil, err
			}
			if len(fields) == 0 {
				continue
			}
			size, _ := strconv.ParseInt(fields["size"], 10, 64)
			storedAt, _ := strconv.ParseInt(fields["stored_at"], 10, 64)
			out = append(out, BlobInfo{
				Key:         strings.TrimPrefix(metaKey, blobMetaPrefix),
				Size:        size,
				ContentType: fields["content_type"],
				StoredAt:    time.UnixMilli(storedAt),
			})
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

func (s *RedisBlobStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx)
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// escapeGlob quotes SCAN MATCH metacharacters
func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}
