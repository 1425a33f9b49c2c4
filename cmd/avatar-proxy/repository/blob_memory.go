package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryBlob struct {
	data        []byte
	contentType string
	storedAt    time.Time
}

// MemoryBlobStore keeps blobs in process memory. Useful for tests and
// single-instance development; contents are lost on restart.
// Safe for concurrent use.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
	now   func() time.Time
}

// NewMemoryBlobStore creates an empty in-memory blob store
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{
		blobs: make(map[string]memoryBlob),
		now:   time.Now,
	}
}

// WithClock overrides the clock used for StoredAt
func (m *MemoryBlobStore) WithClock(now func() time.Time) *MemoryBlobStore {
	m.now = now
	return m
}

func (m *MemoryBlobStore) Name() string { return "memory" }

func (m *MemoryBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.blobs[key]
	if !ok {
		return nil, ErrBlobNotFound
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out, nil
}

func (m *MemoryBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	stored := make([]byte, len(data))
	copy(stored, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = memoryBlob{data: stored, contentType: contentType, storedAt: m.now()}
	return nil
}

func (m *MemoryBlobStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

// List returns blobs under prefix sorted by key
func (m *MemoryBlobStore) List(ctx context.Context, prefix string) ([]BlobInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []BlobInfo
	for key, b := range m.blobs {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, BlobInfo{
			Key:         key,
			Size:        int64(len(b.data)),
			ContentType: b.contentType,
			StoredAt:    b.storedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryBlobStore) Ping(ctx context.Context) error { return nil }

// Len returns the number of stored blobs
func (m *MemoryBlobStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
