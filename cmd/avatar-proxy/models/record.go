package models

import (
	"time"
)

// VariantEntry locates one stored blob
type VariantEntry struct {
	BlobKey     string `json:"blobKey"`
	ContentType string `json:"contentType"`
	ETag        string `json:"etag"`
	StoredAt    int64  `json:"storedAt"` // unix millis
	Size        int64  `json:"size"`
}

// CacheRecord is the per-identity metadata envelope.
// Stored under "profile:{identity}".
type CacheRecord struct {
	Identity    string `json:"identity"`
	OriginalURL string `json:"originalUrl"`

	// Keyed by VariantKey.Name()
	Variants map[string]VariantEntry `json:"variants"`

	// Unix millis of the last successful fetch. 0 marks a placeholder
	// discovered by the scanner whose image was never downloaded.
	FetchedAt int64 `json:"fetchedAt"`

	// created_at (seconds) of the profile event behind the current variants
	SourceUpdatedAt int64 `json:"sourceUpdatedAt"`

	FailureCount  int   `json:"failureCount"`
	LastFailureAt int64 `json:"lastFailureAt,omitempty"` // unix millis
}

// NewPlaceholder creates a record that only marks an identity discoverable
func NewPlaceholder(identity, pictureURL string, sourceUpdatedAt int64) *CacheRecord {
	return &CacheRecord{
		Identity:        identity,
		OriginalURL:     pictureURL,
		Variants:        map[string]VariantEntry{},
		SourceUpdatedAt: sourceUpdatedAt,
	}
}

// IsPlaceholder reports whether the record was never fetched
func (r *CacheRecord) IsPlaceholder() bool {
	return r.FetchedAt == 0
}

// IsFresh reports whether the last fetch happened less than maxAge before now
func (r *CacheRecord) IsFresh(now time.Time, maxAge time.Duration) bool {
	if r.IsPlaceholder() {
		return false
	}
	return now.UnixMilli()-r.FetchedAt < maxAge.Milliseconds()
}

// Variant returns the entry for key, if any
func (r *CacheRecord) Variant(key VariantKey) (VariantEntry, bool) {
	entry, ok := r.Variants[key.Name()]
	return entry, ok
}

// SetVariant upserts the entry for key
func (r *CacheRecord) SetVariant(key VariantKey, entry VariantEntry) {
	if r.Variants == nil {
		r.Variants = map[string]VariantEntry{}
	}
	r.Variants[key.Name()] = entry
}

// BlobKeys returns every blob referenced by the record
func (r *CacheRecord) BlobKeys() []string {
	keys := make([]string, 0, len(r.Variants))
	for _, v := range r.Variants {
		keys = append(keys, v.BlobKey)
	}
	return keys
}

// ResetToPlaceholder drops every variant and returns the blob keys that
// are no longer referenced
func (r *CacheRecord) ResetToPlaceholder(pictureURL string, sourceUpdatedAt int64) []string {
	orphaned := r.BlobKeys()
	r.OriginalURL = pictureURL
	r.Variants = map[string]VariantEntry{}
	r.FetchedAt = 0
	r.SourceUpdatedAt = sourceUpdatedAt
	return orphaned
}

// RecordFailure bumps the failure counters
func (r *CacheRecord) RecordFailure(now time.Time) {
	r.FailureCount++
	r.LastFailureAt = now.UnixMilli()
}

// Clone returns a deep copy
func (r *CacheRecord) Clone() *CacheRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Variants = make(map[string]VariantEntry, len(r.Variants))
	for k, v := range r.Variants {
		out.Variants[k] = v
	}
	return &out
}

// ProfileRecord is the decoded newest profile event for an identity.
// Never persisted.
type ProfileRecord struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName,omitempty"`
	About       string `json:"about,omitempty"`
	PictureURL  string `json:"pictureUrl,omitempty"`
	BannerURL   string `json:"bannerUrl,omitempty"`
	UpdatedAt   int64  `json:"updatedAt"` // seconds, relay-assigned created_at
}

// NewerThan reports whether p supersedes other (greatest UpdatedAt wins)
func (p *ProfileRecord) NewerThan(other *ProfileRecord) bool {
	return other == nil || p.UpdatedAt > other.UpdatedAt
}
