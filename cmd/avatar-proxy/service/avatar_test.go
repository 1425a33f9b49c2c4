package service

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/fetcher"
	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/models"
	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/relay"
	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/repository"
	"github.com/lyzr/avatar-proxy/common/clients"
	rediscommon "github.com/lyzr/avatar-proxy/common/redis"
	"github.com/lyzr/avatar-proxy/common/security"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLogger struct {
	t *testing.T
}

func (l *testLogger) Info(msg string, kv ...interface{})  { l.t.Logf("INFO: %s %v", msg, kv) }
func (l *testLogger) Error(msg string, kv ...interface{}) { l.t.Logf("ERROR: %s %v", msg, kv) }
func (l *testLogger) Warn(msg string, kv ...interface{})  { l.t.Logf("WARN: %s %v", msg, kv) }
func (l *testLogger) Debug(msg string, kv ...interface{}) { l.t.Logf("DEBUG: %s %v", msg, kv) }

const testIdentity = "e0f6a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b52b55"

const pictureURL = "https://example.com/a.png"

type stubResolver struct {
	mu      sync.Mutex
	profile *models.ProfileRecord
	err     error
	calls   int
}

func (r *stubResolver) Resolve(ctx context.Context, identity string, timeout time.Duration) (*models.ProfileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	if r.profile == nil {
		return nil, nil
	}
	p := *r.profile
	return &p, nil
}

func (r *stubResolver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type stubFetcher struct {
	mu    sync.Mutex
	body  []byte
	err   error
	calls int
}

func (f *stubFetcher) Fetch(ctx context.Context, rawURL string) (*fetcher.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &fetcher.Result{Body: f.body, ContentType: "image/png"}, nil
}

func (f *stubFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func pngOfSize(n int) []byte {
	head := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	return append(head, bytes.Repeat([]byte{0x42}, n-len(head))...)
}

type harness struct {
	mr       *miniredis.Miniredis
	store    *repository.CacheStore
	blobs    *repository.MemoryBlobStore
	resolver *stubResolver
	fetcher  *stubFetcher
	svc      *AvatarService
	now      time.Time
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := &testLogger{t: t}
	blobs := repository.NewMemoryBlobStore()
	store := repository.NewCacheStore(rediscommon.NewClient(rdb, log), blobs, repository.CacheStoreConfig{RecordTTL: 30 * 24 * time.Hour}, log)

	if cfg.MaxAge == 0 {
		cfg.MaxAge = 7 * 24 * time.Hour
	}
	if cfg.LookupTimeout == 0 {
		cfg.LookupTimeout = time.Second
	}

	h := &harness{
		mr:    mr,
		store: store,
		blobs: blobs,
		resolver: &stubResolver{profile: &models.ProfileRecord{
			Identity:   testIdentity,
			PictureURL: pictureURL,
			UpdatedAt:  1700000000,
		}},
		fetcher: &stubFetcher{body: pngOfSize(50000)},
		now:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	validator := security.NewURLValidator(security.Options{})
	h.svc = NewAvatarService(store, h.resolver, h.fetcher, validator, cfg, log).
		WithClock(func() time.Time { return h.now })
	return h
}

func defaultRequest() Request {
	return Request{Identity: testIdentity, Size: models.DefaultSize}
}

func requireAvatarError(t *testing.T, err error) *AvatarError {
	t.Helper()
	require.Error(t, err)
	ae, ok := AsAvatarError(err)
	require.True(t, ok, "expected *AvatarError, got %T: %v", err, err)
	return ae
}

func TestResolve_ColdThenWarm(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	cold, err := h.svc.Resolve(ctx, defaultRequest())
	require.NoError(t, err)
	assert.Equal(t, CacheMiss, cold.CacheStatus)
	assert.Equal(t, "image/png", cold.ContentType)
	assert.Len(t, cold.Body, 50000)
	assert.NotEmpty(t, cold.ETag)
	assert.Equal(t, CacheControl, cold.CacheControl)

	record, status := h.store.Get(ctx, testIdentity)
	require.Equal(t, repository.Found, status)
	require.Len(t, record.Variants, 1)
	entry, ok := record.Variant(defaultRequest().VariantKey())
	require.True(t, ok)
	assert.Equal(t, "avatars/"+testIdentity+"/original", entry.BlobKey)
	assert.Equal(t, h.now.UnixMilli(), record.FetchedAt)
	assert.Equal(t, int64(1700000000), record.SourceUpdatedAt)
	assert.Equal(t, pictureURL, record.OriginalURL)

	warm, err := h.svc.Resolve(ctx, defaultRequest())
	require.NoError(t, err)
	assert.Equal(t, CacheHit, warm.CacheStatus)
	assert.Equal(t, cold.ETag, warm.ETag)
	assert.Equal(t, cold.Body, warm.Body)
	assert.Equal(t, cold.LastModified, warm.LastModified)

	assert.Equal(t, 1, h.resolver.Calls(), "warm path makes no relay call")
	assert.Equal(t, 1, h.fetcher.Calls(), "warm path makes no origin call")
}

func TestResolve_VariantKeysAreIndependent(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.svc.Resolve(ctx, defaultRequest())
	require.NoError(t, err)
	_, err = h.svc.Resolve(ctx, Request{Identity: testIdentity, Size: models.Size200, Format: models.FormatWebP})
	require.NoError(t, err)

	record, _ := h.store.Get(ctx, testIdentity)
	assert.Len(t, record.Variants, 2)
	assert.Contains(t, record.Variants, "200x200.webp")
	assert.NotNil(t, h.store.GetBlob(ctx, "avatars/"+testIdentity+"/200x200.webp"))
}

func TestResolve_ProfileAbsent(t *testing.T) {
	h := newHarness(t, Config{})
	h.resolver.profile = nil

	_, err := h.svc.Resolve(context.Background(), defaultRequest())
	ae := requireAvatarError(t, err)
	assert.Equal(t, KindProfileNotFound, ae.Kind)
	assert.Equal(t, http.StatusNotFound, ae.StatusCode)
	assert.Equal(t, testIdentity, ae.Identity)
	assert.Contains(t, ae.Message, testIdentity)
	assert.Equal(t, 0, h.fetcher.Calls())
}

func TestResolve_ProfileWithoutPicture(t *testing.T) {
	h := newHarness(t, Config{})
	h.resolver.profile.PictureURL = ""

	_, err := h.svc.Resolve(context.Background(), defaultRequest())
	ae := requireAvatarError(t, err)
	assert.Equal(t, KindProfileNotFound, ae.Kind)
}

func TestResolve_RelayUnavailable(t *testing.T) {
	h := newHarness(t, Config{})
	h.resolver.err = relay.ErrRelayUnavailable

	_, err := h.svc.Resolve(context.Background(), defaultRequest())
	ae := requireAvatarError(t, err)
	assert.Equal(t, KindRelayUnavailable, ae.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, ae.StatusCode)
	assert.ErrorIs(t, err, relay.ErrRelayUnavailable)
}

func TestResolve_InvalidPictureURL(t *testing.T) {
	h := newHarness(t, Config{})
	h.resolver.profile.PictureURL = "ftp://example.com/a.png"

	_, err := h.svc.Resolve(context.Background(), defaultRequest())
	ae := requireAvatarError(t, err)
	assert.Equal(t, KindInvalidPictureURL, ae.Kind)
	assert.Equal(t, http.StatusUnprocessableEntity, ae.StatusCode)
	assert.Equal(t, "ftp://example.com/a.png", ae.OriginalURL)
	assert.Equal(t, 0, h.fetcher.Calls())
}

func TestResolve_FreshnessBoundary(t *testing.T) {
	maxAge := 7 * 24 * time.Hour

	tests := []struct {
		name        string
		age         time.Duration
		wantStatus  CacheStatus
		wantLookups int
	}{
		{name: "just stale", age: maxAge + time.Millisecond, wantStatus: CacheMiss, wantLookups: 1},
		{name: "just fresh", age: maxAge - time.Millisecond, wantStatus: CacheHit, wantLookups: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{MaxAge: maxAge})
			ctx := context.Background()

			key := defaultRequest().VariantKey()
			record := models.NewPlaceholder(testIdentity, pictureURL, 1700000000)
			record.FetchedAt = h.now.Add(-tt.age).UnixMilli()
			record.SetVariant(key, models.VariantEntry{
				BlobKey:     key.BlobKey(),
				ContentType: "image/png",
				ETag:        `"seed"`,
				StoredAt:    record.FetchedAt,
				Size:        4,
			})
			require.True(t, h.store.Put(ctx, record))
			require.True(t, h.store.PutBlob(ctx, key.BlobKey(), pngOfSize(16), "image/png"))

			resp, err := h.svc.Resolve(ctx, defaultRequest())
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.CacheStatus)
			assert.Equal(t, tt.wantLookups, h.resolver.Calls())
		})
	}
}

func TestResolve_MissingBlobRefreshes(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	first, err := h.svc.Resolve(ctx, defaultRequest())
	require.NoError(t, err)

	require.NoError(t, h.blobs.Delete(ctx, defaultRequest().VariantKey().BlobKey()))

	second, err := h.svc.Resolve(ctx, defaultRequest())
	require.NoError(t, err)
	assert.Equal(t, CacheMiss, second.CacheStatus)
	assert.NotEqual(t, first.ETag, second.ETag, "rewritten bytes get a new validator")
	assert.Equal(t, 2, h.fetcher.Calls())
}

func TestResolve_RevalidatesUnchangedSource(t *testing.T) {
	h := newHarness(t, Config{SkipUnchangedSource: true})
	ctx := context.Background()

	cold, err := h.svc.Resolve(ctx, defaultRequest())
	require.NoError(t, err)

	h.now = h.now.Add(8 * 24 * time.Hour)

	resp, err := h.svc.Resolve(ctx, defaultRequest())
	require.NoError(t, err)
	assert.Equal(t, CacheRevalidated, resp.CacheStatus)
	assert.Equal(t, cold.ETag, resp.ETag)
	assert.Equal(t, 2, h.resolver.Calls())
	assert.Equal(t, 1, h.fetcher.Calls(), "no download for an unchanged source")

	record, _ := h.store.Get(ctx, testIdentity)
	assert.Equal(t, h.now.UnixMilli(), record.FetchedAt)

	// A newer profile event forces a download
	h.now = h.now.Add(8 * 24 * time.Hour)
	h.resolver.profile.UpdatedAt++
	resp, err = h.svc.Resolve(ctx, defaultRequest())
	require.NoError(t, err)
	assert.Equal(t, CacheMiss, resp.CacheStatus)
	assert.Equal(t, 2, h.fetcher.Calls())
}

func TestResolve_PictureChangeDropsOldVariants(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.svc.Resolve(ctx, defaultRequest())
	require.NoError(t, err)
	webp := Request{Identity: testIdentity, Size: models.Size800, Format: models.FormatWebP}
	_, err = h.svc.Resolve(ctx, webp)
	require.NoError(t, err)
	require.Equal(t, 2, h.blobs.Len())

	h.now = h.now.Add(8 * 24 * time.Hour)
	h.resolver.profile.PictureURL = "https://example.com/b.png"
	h.resolver.profile.UpdatedAt++

	_, err = h.svc.Resolve(ctx, defaultRequest())
	require.NoError(t, err)

	record, _ := h.store.Get(ctx, testIdentity)
	assert.Equal(t, "https://example.com/b.png", record.OriginalURL)
	assert.Len(t, record.Variants, 1)
	assert.Nil(t, h.store.GetBlob(ctx, webp.VariantKey().BlobKey()))
	assert.Equal(t, 1, h.blobs.Len())
}

func TestResolve_OversizedRecordsFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.fetcher.err = &fetcher.FetchError{Kind: fetcher.KindTooLarge, URL: pictureURL, Message: "too big"}

	_, err := h.svc.Resolve(context.Background(), defaultRequest())
	ae := requireAvatarError(t, err)
	assert.Equal(t, ErrorKind(fetcher.KindTooLarge), ae.Kind)
	assert.Equal(t, http.StatusRequestEntityTooLarge, ae.StatusCode)
	assert.Equal(t, pictureURL, ae.OriginalURL)
	assert.Equal(t, 0, h.blobs.Len(), "nothing stored")

	record, status := h.store.Get(context.Background(), testIdentity)
	require.Equal(t, repository.Found, status)
	assert.True(t, record.IsPlaceholder())
	assert.Equal(t, 1, record.FailureCount)
	assert.Equal(t, h.now.UnixMilli(), record.LastFailureAt)

	// A later success clears the counter
	h.fetcher.err = nil
	_, err = h.svc.Resolve(context.Background(), defaultRequest())
	require.NoError(t, err)
	record, _ = h.store.Get(context.Background(), testIdentity)
	assert.Equal(t, 0, record.FailureCount)
}

func TestResolve_InvalidImage(t *testing.T) {
	h := newHarness(t, Config{})
	h.fetcher.body = []byte("definitely not an image")

	_, err := h.svc.Resolve(context.Background(), defaultRequest())
	ae := requireAvatarError(t, err)
	assert.Equal(t, ErrorKind(fetcher.KindInvalidImage), ae.Kind)
	assert.Equal(t, http.StatusUnsupportedMediaType, ae.StatusCode)
	assert.Equal(t, 0, h.blobs.Len())
}

func TestResolve_BlockedOrigin(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<!DOCTYPE html><html><body><div id="cf-browser-verification"></div></body></html>`))
	}))
	defer origin.Close()

	h := newHarness(t, Config{})
	log := &testLogger{t: t}
	realFetcher := fetcher.New(clients.NewHTTPClient(nil, "avatar-proxy-test", log), fetcher.Config{
		Timeout:  2 * time.Second,
		MaxBytes: 1 << 20,
	}, log)
	h.svc.fetcher = realFetcher
	h.resolver.profile.PictureURL = origin.URL + "/a.png"

	_, err := h.svc.Resolve(context.Background(), defaultRequest())
	ae := requireAvatarError(t, err)
	assert.Equal(t, http.StatusForbidden, ae.StatusCode)
	assert.True(t, ae.BotProtection)
	assert.Equal(t, SuggestedLinkOriginal, ae.SuggestedAction)
	assert.Equal(t, origin.URL+"/a.png", ae.OriginalURL)

	record, _ := h.store.Get(context.Background(), testIdentity)
	require.NotNil(t, record)
	assert.Equal(t, 1, record.FailureCount)
}

func TestResolve_ETagChangesOnRewrite(t *testing.T) {
	h := newHarness(t, Config{MaxAge: time.Millisecond})
	ctx := context.Background()

	first, err := h.svc.Resolve(ctx, defaultRequest())
	require.NoError(t, err)

	// Same bytes, same clock: the validator must still move
	record, _ := h.store.Get(ctx, testIdentity)
	record.FetchedAt = 1
	require.True(t, h.store.Put(ctx, record))

	second, err := h.svc.Resolve(ctx, defaultRequest())
	require.NoError(t, err)
	assert.Equal(t, CacheMiss, second.CacheStatus)
	assert.NotEqual(t, first.ETag, second.ETag)
}

func TestFetchStatus(t *testing.T) {
	tests := []struct {
		fe   fetcher.FetchError
		want int
	}{
		{fetcher.FetchError{Kind: fetcher.KindHTTPStatus, Code: 404}, http.StatusNotFound},
		{fetcher.FetchError{Kind: fetcher.KindHTTPStatus, Code: 410}, http.StatusNotFound},
		{fetcher.FetchError{Kind: fetcher.KindHTTPStatus, Code: 403}, http.StatusForbidden},
		{fetcher.FetchError{Kind: fetcher.KindHTTPStatus, Code: 500}, http.StatusBadGateway},
		{fetcher.FetchError{Kind: fetcher.KindUnsupportedType}, http.StatusUnsupportedMediaType},
		{fetcher.FetchError{Kind: fetcher.KindInvalidImage}, http.StatusUnsupportedMediaType},
		{fetcher.FetchError{Kind: fetcher.KindTooLarge}, http.StatusRequestEntityTooLarge},
		{fetcher.FetchError{Kind: fetcher.KindBotChallenge}, http.StatusForbidden},
		{fetcher.FetchError{Kind: fetcher.KindBlockedOrHTML}, http.StatusForbidden},
		{fetcher.FetchError{Kind: fetcher.KindTimeout}, http.StatusGatewayTimeout},
		{fetcher.FetchError{Kind: fetcher.KindProxy, Code: 502}, http.StatusBadGateway},
		{fetcher.FetchError{Kind: fetcher.KindUnknown}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.fe.Kind), func(t *testing.T) {
			fe := tt.fe
			assert.Equal(t, tt.want, FetchStatus(&fe))
		})
	}
}

func TestFromFetchError_NonFetchError(t *testing.T) {
	ae := fromFetchError(testIdentity, pictureURL, errors.New("boom"))
	assert.Equal(t, KindInternal, ae.Kind)
	assert.Equal(t, http.StatusInternalServerError, ae.StatusCode)
}
