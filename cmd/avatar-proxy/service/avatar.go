package service

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/url"
	"time"

	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/fetcher"
	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/models"
	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/repository"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// ProfileResolver looks up the newest profile for an identity. A nil
// profile with a nil error means the relay has none.
type ProfileResolver interface {
	Resolve(ctx context.Context, identity string, timeout time.Duration) (*models.ProfileRecord, error)
}

// ImageFetcher downloads a picture from its origin
type ImageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetcher.Result, error)
}

// URLValidator vets a picture url before it is fetched
type URLValidator interface {
	Validate(ctx context.Context, rawURL string) (*url.URL, error)
}

// CacheStatus marks how a response was produced
type CacheStatus string

const (
	CacheHit         CacheStatus = "HIT"
	CacheMiss        CacheStatus = "MISS"
	CacheRevalidated CacheStatus = "REVALIDATED"
)

// CacheControl is sent with every successful avatar response
const CacheControl = "public, max-age=86400"

// Request is a parsed avatar request. Identity must already be validated
// and canonical.
type Request struct {
	Identity string
	Size     models.Size
	Format   models.Format
}

// VariantKey returns the request's cache key
func (r Request) VariantKey() models.VariantKey {
	return models.VariantKey{Identity: r.Identity, Size: r.Size, Format: r.Format}
}

// Response is a successful avatar response
type Response struct {
	Body         []byte
	ContentType  string
	ETag         string
	LastModified time.Time
	CacheStatus  CacheStatus
	CacheControl string
}

// Config holds engine tuning
type Config struct {
	// MaxAge is how long a fetched variant is served without a refresh
	MaxAge time.Duration

	// LookupTimeout bounds the relay query during a refresh
	LookupTimeout time.Duration

	// SkipUnchangedSource revalidates instead of re-downloading when the
	// relay returns the same picture url from a profile event no newer
	// than the cached one
	SkipUnchangedSource bool
}

// AvatarService resolves avatar requests: cache check, serve hit, or
// refresh through the relay and the origin
type AvatarService struct {
	store   *repository.CacheStore
	relay   ProfileResolver
	fetcher ImageFetcher
	urls    URLValidator
	cfg     Config
	now     func() time.Time
	log     Logger
}

// NewAvatarService creates the engine
func NewAvatarService(store *repository.CacheStore, relay ProfileResolver, imageFetcher ImageFetcher, urls URLValidator, cfg Config, log Logger) *AvatarService {
	return &AvatarService{
		store:   store,
		relay:   relay,
		fetcher: imageFetcher,
		urls:    urls,
		cfg:     cfg,
		now:     time.Now,
		log:     log,
	}
}

// WithClock overrides the engine clock
func (s *AvatarService) WithClock(now func() time.Time) *AvatarService {
	s.now = now
	return s
}

// Resolve serves req from cache when fresh, otherwise refreshes it.
// Failures are *AvatarError.
func (s *AvatarService) Resolve(ctx context.Context, req Request) (*Response, error) {
	key := req.VariantKey()
	now := s.now()

	record, status := s.store.Get(ctx, req.Identity)
	if status == repository.Unavailable {
		s.log.Warn("metadata unavailable, treating as miss", "identity", req.Identity)
	}

	if record != nil {
		if entry, ok := record.Variant(key); ok && record.IsFresh(now, s.cfg.MaxAge) {
			if body := s.store.GetBlob(ctx, entry.BlobKey); body != nil {
				cacheResults.WithLabelValues(string(CacheHit)).Inc()
				return responseFor(entry, body, CacheHit), nil
			}
			s.log.Warn("cached variant has no blob, refreshing", "identity", req.Identity, "blob_key", entry.BlobKey)
		}
	}

	resp, err := s.refresh(ctx, key, record, now)
	if err != nil {
		kind := string(KindInternal)
		if ae, ok := AsAvatarError(err); ok {
			kind = string(ae.Kind)
		}
		cacheResults.WithLabelValues("error").Inc()
		refreshFailures.WithLabelValues(kind).Inc()
		return nil, err
	}
	cacheResults.WithLabelValues(string(resp.CacheStatus)).Inc()
	return resp, nil
}

func (s *AvatarService) refresh(ctx context.Context, key models.VariantKey, record *models.CacheRecord, now time.Time) (*Response, error) {
	identity := key.Identity

	profile, err := s.relay.Resolve(ctx, identity, s.cfg.LookupTimeout)
	if err != nil {
		s.log.Warn("profile lookup failed", "identity", identity, "error", err)
		return nil, relayUnavailable(identity, err)
	}
	if profile == nil || profile.PictureURL == "" {
		return nil, profileNotFound(identity)
	}
	pictureURL := profile.PictureURL

	if _, err := s.urls.Validate(ctx, pictureURL); err != nil {
		s.log.Info("rejected picture url", "identity", identity, "url", pictureURL, "error", err)
		return nil, invalidPictureURL(identity, pictureURL, err)
	}

	if record == nil {
		record = models.NewPlaceholder(identity, pictureURL, profile.UpdatedAt)
	}

	if resp := s.revalidate(ctx, key, record, profile, now); resp != nil {
		return resp, nil
	}

	if record.OriginalURL != pictureURL {
		orphaned := record.ResetToPlaceholder(pictureURL, profile.UpdatedAt)
		if len(orphaned) > 0 {
			s.log.Info("picture changed, dropping old variants", "identity", identity, "url", pictureURL, "variants", len(orphaned))
			s.store.DeleteBlobs(ctx, orphaned)
		}
	}

	result, err := s.fetcher.Fetch(ctx, pictureURL)
	if err != nil {
		s.recordFailure(ctx, record, now)
		return nil, fromFetchError(identity, pictureURL, err)
	}

	contentType, err := fetcher.DetectFormat(result.Body)
	if err != nil {
		s.recordFailure(ctx, record, now)
		return nil, fromFetchError(identity, pictureURL, &fetcher.FetchError{
			Kind:     fetcher.KindInvalidImage,
			URL:      pictureURL,
			Message:  "payload is not a recognised image",
			ViaProxy: result.ViaProxy,
			Err:      err,
		})
	}

	stamp := now.UnixMilli()
	if prev, ok := record.Variant(key); ok && prev.StoredAt >= stamp {
		stamp = prev.StoredAt + 1
	}
	entry := models.VariantEntry{
		BlobKey:     key.BlobKey(),
		ContentType: contentType,
		ETag:        computeETag(result.Body, stamp),
		StoredAt:    stamp,
		Size:        int64(len(result.Body)),
	}

	if s.store.PutBlob(ctx, entry.BlobKey, result.Body, contentType) {
		record.SetVariant(key, entry)
	} else {
		s.log.Warn("serving uncached bytes", "identity", identity, "blob_key", entry.BlobKey)
	}
	record.OriginalURL = pictureURL
	record.SourceUpdatedAt = profile.UpdatedAt
	record.FetchedAt = now.UnixMilli()
	record.FailureCount = 0
	s.store.Put(ctx, record)

	s.log.Info("refreshed avatar",
		"identity", identity,
		"variant", key.Name(),
		"url", pictureURL,
		"bytes", entry.Size,
		"via_proxy", result.ViaProxy,
	)
	return responseFor(entry, result.Body, CacheMiss), nil
}

// revalidate extends a record's freshness without downloading when the
// relay returned the same picture from a profile event that is not newer
// than the one behind the cached bytes
func (s *AvatarService) revalidate(ctx context.Context, key models.VariantKey, record *models.CacheRecord, profile *models.ProfileRecord, now time.Time) *Response {
	if !s.cfg.SkipUnchangedSource || record.IsPlaceholder() {
		return nil
	}
	if record.OriginalURL != profile.PictureURL || record.SourceUpdatedAt < profile.UpdatedAt {
		return nil
	}
	entry, ok := record.Variant(key)
	if !ok {
		return nil
	}
	body := s.store.GetBlob(ctx, entry.BlobKey)
	if body == nil {
		return nil
	}

	record.FetchedAt = now.UnixMilli()
	s.store.Put(ctx, record)
	s.log.Debug("revalidated avatar without download", "identity", record.Identity, "variant", key.Name())
	return responseFor(entry, body, CacheRevalidated)
}

func (s *AvatarService) recordFailure(ctx context.Context, record *models.CacheRecord, now time.Time) {
	record.RecordFailure(now)
	s.store.Put(ctx, record)
}

// Inspect returns the stored record for identity, for operators
func (s *AvatarService) Inspect(ctx context.Context, identity string) (*models.CacheRecord, repository.LookupStatus) {
	return s.store.Get(ctx, identity)
}

func responseFor(entry models.VariantEntry, body []byte, status CacheStatus) *Response {
	return &Response{
		Body:         body,
		ContentType:  entry.ContentType,
		ETag:         entry.ETag,
		LastModified: time.UnixMilli(entry.StoredAt).UTC(),
		CacheStatus:  status,
		CacheControl: CacheControl,
	}
}

// computeETag derives a strong validator from content hash, length and
// write time
func computeETag(body []byte, storedAt int64) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf(`"%x-%d-%d"`, sum[:8], len(body), storedAt)
}
