package repository

import (
	"context"
	"fmt"

	"github.com/lyzr/avatar-proxy/common/config"
	"github.com/lyzr/avatar-proxy/common/db"
	rediscommon "github.com/lyzr/avatar-proxy/common/redis"
)

// NewBlobStoreFromConfig creates the blob backend named by cfg.Backend.
// redis and database are only consulted by the backends that need them.
func NewBlobStoreFromConfig(ctx context.Context, cfg config.BlobConfig, redis *rediscommon.Client, database *db.DB) (BlobStore, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryBlobStore(), nil
	case "redis":
		if redis == nil {
			return nil, fmt.Errorf("redis blob backend requires a redis client")
		}
		return NewRedisBlobStore(redis), nil
	case "postgres":
		if database == nil {
			return nil, fmt.Errorf("postgres blob backend requires a database connection")
		}
		store := NewPostgresBlobStore(database)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 blob backend requires S3_BUCKET to be set")
		}
		return NewS3BlobStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown blob backend: %s", cfg.Backend)
	}
}
