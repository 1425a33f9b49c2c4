package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/fetcher"
	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/models"
	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLogger struct {
	t *testing.T
}

func (l *testLogger) Info(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[INFO] %s %v", msg, keysAndValues)
}

func (l *testLogger) Error(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[ERROR] %s %v", msg, keysAndValues)
}

func (l *testLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[WARN] %s %v", msg, keysAndValues)
}

type stubResolver struct {
	resp *service.Response
	err  error
	got  []service.Request
}

func (s *stubResolver) Resolve(_ context.Context, req service.Request) (*service.Response, error) {
	s.got = append(s.got, req)
	return s.resp, s.err
}

var (
	upperID = "E0F6" + strings.Repeat("A", 55) + "52B55"
	lowerID = strings.ToLower(upperID)
)

func newTestServer(t *testing.T, resolver AvatarResolver) *echo.Echo {
	t.Helper()
	e := echo.New()
	h := NewAvatarHandler(resolver, &testLogger{t: t})
	e.GET("/avatar/:identity", h.GetAvatar)
	e.HEAD("/avatar/:identity", h.GetAvatar)
	return e
}

func do(e *echo.Echo, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func pngResponse() *service.Response {
	return &service.Response{
		Body:         []byte("\x89PNG\r\n\x1a\nbody"),
		ContentType:  "image/png",
		ETag:         `"abc-12-1700000000000"`,
		LastModified: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		CacheStatus:  service.CacheHit,
		CacheControl: service.CacheControl,
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestGetAvatar_Success(t *testing.T) {
	resolver := &stubResolver{resp: pngResponse()}
	e := newTestServer(t, resolver)

	rec := do(e, "/avatar/"+upperID+"?size=200&format=WEBP", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, `"abc-12-1700000000000"`, rec.Header().Get("ETag"))
	assert.Equal(t, "Sat, 01 Jun 2024 12:00:00 GMT", rec.Header().Get("Last-Modified"))
	assert.Equal(t, "public, max-age=86400", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "HIT", rec.Header().Get(HeaderCache))
	assert.Equal(t, pngResponse().Body, rec.Body.Bytes())

	require.Len(t, resolver.got, 1)
	assert.Equal(t, service.Request{Identity: lowerID, Size: models.Size200, Format: models.FormatWebP}, resolver.got[0])
}

func TestGetAvatar_Head(t *testing.T) {
	resolver := &stubResolver{resp: pngResponse()}
	e := newTestServer(t, resolver)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/avatar/"+lowerID, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, `"abc-12-1700000000000"`, rec.Header().Get("ETag"))
	require.Len(t, resolver.got, 1)
}

func TestGetAvatar_QueryDefaults(t *testing.T) {
	resolver := &stubResolver{resp: pngResponse()}
	e := newTestServer(t, resolver)

	do(e, "/avatar/"+lowerID, nil)
	do(e, "/avatar/"+lowerID+"?size=123&format=gif", nil)

	require.Len(t, resolver.got, 2)
	for _, req := range resolver.got {
		assert.Equal(t, models.DefaultSize, req.Size)
		assert.Equal(t, models.FormatNone, req.Format)
		assert.Equal(t, "original", req.VariantKey().Name())
	}
}

func TestGetAvatar_InvalidIdentity(t *testing.T) {
	resolver := &stubResolver{resp: pngResponse()}
	e := newTestServer(t, resolver)

	for _, raw := range []string{"abc", strings.Repeat("g", 64), strings.Repeat("a", 65)} {
		rec := do(e, "/avatar/"+raw, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, raw)

		body := decodeError(t, rec)
		assert.Equal(t, "ValidationError", body.Kind)
		assert.Equal(t, http.StatusBadRequest, body.StatusCode)
		assert.Equal(t, raw, body.Identity)
	}
	assert.Empty(t, resolver.got, "invalid identities never reach the engine")
}

func TestGetAvatar_NotModified(t *testing.T) {
	e := newTestServer(t, &stubResolver{resp: pngResponse()})

	tests := []struct {
		name        string
		ifNoneMatch string
		want        int
	}{
		{"exact", `"abc-12-1700000000000"`, http.StatusNotModified},
		{"weak", `W/"abc-12-1700000000000"`, http.StatusNotModified},
		{"list", `"other", "abc-12-1700000000000"`, http.StatusNotModified},
		{"wildcard", `*`, http.StatusNotModified},
		{"stale", `"abc-12-1600000000000"`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, "/avatar/"+lowerID, map[string]string{"If-None-Match": tt.ifNoneMatch})
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, `"abc-12-1700000000000"`, rec.Header().Get("ETag"))
			if tt.want == http.StatusNotModified {
				assert.Empty(t, rec.Body.Bytes())
			}
		})
	}
}

func TestGetAvatar_BotChallenge(t *testing.T) {
	err := &service.AvatarError{
		Kind:            service.ErrorKind(fetcher.KindBotChallenge),
		StatusCode:      http.StatusForbidden,
		Message:         "origin served a Cloudflare browser check",
		Identity:        lowerID,
		OriginalURL:     "https://example.com/a.png",
		BotProtection:   true,
		SuggestedAction: service.SuggestedLinkOriginal,
	}
	e := newTestServer(t, &stubResolver{err: err})

	rec := do(e, "/avatar/"+lowerID, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, true, raw["botProtection"])
	assert.Equal(t, "link_original", raw["suggestedAction"])
	assert.Equal(t, "https://example.com/a.png", raw["originalUrl"])
	assert.Equal(t, float64(403), raw["statusCode"])
	assert.Equal(t, "BotChallenge", raw["kind"])
	assert.NotEmpty(t, raw["error"])
}

func TestGetAvatar_ProfileNotFound(t *testing.T) {
	err := &service.AvatarError{
		Kind:       service.KindProfileNotFound,
		StatusCode: http.StatusNotFound,
		Message:    "no profile picture found for " + lowerID,
		Identity:   lowerID,
	}
	e := newTestServer(t, &stubResolver{err: err})

	rec := do(e, "/avatar/"+lowerID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), lowerID)

	body := decodeError(t, rec)
	assert.False(t, body.BotProtection)
	assert.Empty(t, body.OriginalURL)
}

func TestGetAvatar_UnexpectedError(t *testing.T) {
	e := newTestServer(t, &stubResolver{err: errors.New("boom")})

	rec := do(e, "/avatar/"+lowerID, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "Unknown", body.Kind)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestEtagMatches(t *testing.T) {
	assert.False(t, etagMatches("", `"a"`))
	assert.False(t, etagMatches(`"a"`, ""))
	assert.True(t, etagMatches(` "a" `, `"a"`))
	assert.False(t, etagMatches(`"b"`, `"a"`))
}
