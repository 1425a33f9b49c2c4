package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/models"
	rediscommon "github.com/lyzr/avatar-proxy/common/redis"
)

const recordKeyPrefix = "profile:"

// RecordKey returns the metadata key for identity
func RecordKey(identity string) string {
	return recordKeyPrefix + identity
}

// LookupStatus is the outcome of a metadata read
type LookupStatus int

const (
	Found LookupStatus = iota
	NotFound
	Unavailable
)

func (s LookupStatus) String() string {
	switch s {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	default:
		return "unavailable"
	}
}

// CacheStoreConfig tunes the metadata tier
type CacheStoreConfig struct {
	RecordTTL time.Duration

	// MemorySize/MemoryTTL size the in-process record cache. A zero
	// MemoryTTL disables it.
	MemorySize int
	MemoryTTL  time.Duration
}

// CacheStore is the two-tier persistent store: CacheRecords in Redis under
// profile:{identity}, image bytes in a BlobStore. Storage errors are logged
// and never returned; callers see absent data instead.
type CacheStore struct {
	redis  *rediscommon.Client
	blobs  BlobStore
	memory *expirable.LRU[string, *models.CacheRecord]
	cfg    CacheStoreConfig
	logger Logger
}

// NewCacheStore creates the store
func NewCacheStore(redis *rediscommon.Client, blobs BlobStore, cfg CacheStoreConfig, logger Logger) *CacheStore {
	s := &CacheStore{
		redis:  redis,
		blobs:  blobs,
		cfg:    cfg,
		logger: logger,
	}
	if cfg.MemoryTTL > 0 && cfg.MemorySize > 0 {
		s.memory = expirable.NewLRU[string, *models.CacheRecord](cfg.MemorySize, nil, cfg.MemoryTTL)
	}
	return s
}

// Blobs returns the underlying blob backend
func (s *CacheStore) Blobs() BlobStore {
	return s.blobs
}

// Get reads the record for identity. The returned record is a private copy.
func (s *CacheStore) Get(ctx context.Context, identity string) (*models.CacheRecord, LookupStatus) {
	if s.memory != nil {
		if rec, ok := s.memory.Get(identity); ok {
			memoryHits.Inc()
			return rec.Clone(), Found
		}
		memoryMisses.Inc()
	}

	data, err := s.redis.GetBytes(ctx, RecordKey(identity))
	if errors.Is(err, rediscommon.ErrNotFound) {
		return nil, NotFound
	}
	if err != nil {
		storeErrors.WithLabelValues("get").Inc()
		s.logger.Warn("cache record read failed", "identity", identity, "error", err)
		return nil, Unavailable
	}

	var rec models.CacheRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		storeErrors.WithLabelValues("decode").Inc()
		s.logger.Warn("cache record is corrupt, ignoring", "identity", identity, "error", err)
		return nil, NotFound
	}
	if rec.Variants == nil {
		rec.Variants = map[string]models.VariantEntry{}
	}

	if s.memory != nil {
		s.memory.Add(identity, rec.Clone())
	}
	return &rec, Found
}

// GetMany reads several records. Identities that are absent or fail to
// load are left out of the result.
func (s *CacheStore) GetMany(ctx context.Context, identities []string) map[string]*models.CacheRecord {
	out := make(map[string]*models.CacheRecord, len(identities))
	for _, id := range identities {
		if rec, status := s.Get(ctx, id); status == Found {
			out[id] = rec
		}
	}
	return out
}

// Put overwrites the record and refreshes its expiry. Reports success.
func (s *CacheStore) Put(ctx context.Context, rec *models.CacheRecord) bool {
	data, err := json.Marshal(rec)
	if err != nil {
		storeErrors.WithLabelValues("encode").Inc()
		s.logger.Error("cache record encode failed", "identity", rec.Identity, "error", err)
		return false
	}

	if err := s.redis.SetWithExpiry(ctx, RecordKey(rec.Identity), string(data), s.cfg.RecordTTL); err != nil {
		storeErrors.WithLabelValues("put").Inc()
		s.logger.Warn("cache record write failed", "identity", rec.Identity, "error", err)
		if s.memory != nil {
			s.memory.Remove(rec.Identity)
		}
		return false
	}

	if s.memory != nil {
		s.memory.Add(rec.Identity, rec.Clone())
	}
	return true
}

// Delete removes the record. Reports success.
func (s *CacheStore) Delete(ctx context.Context, identity string) bool {
	if s.memory != nil {
		s.memory.Remove(identity)
	}
	if err := s.redis.Delete(ctx, RecordKey(identity)); err != nil {
		storeErrors.WithLabelValues("delete").Inc()
		s.logger.Warn("cache record delete failed", "identity", identity, "error", err)
		return false
	}
	return true
}

// ScanRecords returns one page of records and the cursor for the next page
// (0 when done). Unlike the other operations this surfaces errors so that
// a caller iterating the keyspace can stop.
func (s *CacheStore) ScanRecords(ctx context.Context, cursor uint64, count int64) ([]*models.CacheRecord, uint64, error) {
	keys, next, err := s.redis.Scan(ctx, cursor, recordKeyPrefix+"*", count)
	if err != nil {
		return nil, 0, err
	}
	if len(keys) == 0 {
		return nil, next, nil
	}

	raw, err := s.redis.GetMultiple(ctx, keys)
	if err != nil {
		return nil, 0, err
	}

	records := make([]*models.CacheRecord, 0, len(raw))
	for _, key := range keys {
		data, ok := raw[key]
		if !ok {
			// Expired between SCAN and GET
			continue
		}
		var rec models.CacheRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			s.logger.Warn("skipping corrupt cache record", "key", key, "error", err)
			continue
		}
		if rec.Identity == "" {
			rec.Identity = strings.TrimPrefix(key, recordKeyPrefix)
		}
		records = append(records, &rec)
	}
	return records, next, nil
}

// GetBlob returns the blob bytes or nil when missing or unreadable
func (s *CacheStore) GetBlob(ctx context.Context, key string) []byte {
	data, err := s.blobs.Get(ctx, key)
	if errors.Is(err, ErrBlobNotFound) {
		return nil
	}
	if err != nil {
		storeErrors.WithLabelValues("get_blob").Inc()
		s.logger.Warn("blob read failed", "blob_key", key, "backend", s.blobs.Name(), "error", err)
		return nil
	}
	return data
}

// PutBlob stores bytes under key. Reports success.
func (s *CacheStore) PutBlob(ctx context.Context, key string, data []byte, contentType string) bool {
	if err := s.blobs.Put(ctx, key, data, contentType); err != nil {
		storeErrors.WithLabelValues("put_blob").Inc()
		s.logger.Warn("blob write failed", "blob_key", key, "backend", s.blobs.Name(), "error", err)
		return false
	}
	return true
}

// DeleteBlob removes key. Reports success.
func (s *CacheStore) DeleteBlob(ctx context.Context, key string) bool {
	if err := s.blobs.Delete(ctx, key); err != nil {
		storeErrors.WithLabelValues("delete_blob").Inc()
		s.logger.Warn("blob delete failed", "blob_key", key, "backend", s.blobs.Name(), "error", err)
		return false
	}
	return true
}

// DeleteBlobs removes every key and returns how many deletes succeeded
func (s *CacheStore) DeleteBlobs(ctx context.Context, keys []string) int {
	deleted := 0
	for _, key := range keys {
		if s.DeleteBlob(ctx, key) {
			deleted++
		}
	}
	return deleted
}

// ListBlobs lists blobs under prefix, or nil when the backend fails
func (s *CacheStore) ListBlobs(ctx context.Context, prefix string) []BlobInfo {
	infos, err := s.blobs.List(ctx, prefix)
	if err != nil {
		storeErrors.WithLabelValues("list_blobs").Inc()
		s.logger.Warn("blob list failed", "prefix", prefix, "backend", s.blobs.Name(), "error", err)
		return nil
	}
	return infos
}

// Health pings both tiers
func (s *CacheStore) Health(ctx context.Context) map[string]error {
	health := map[string]error{"redis": s.redis.Ping(ctx)}
	health["blob:"+s.blobs.Name()] = s.blobs.Ping(ctx)
	return health
}
