package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testIdentity = strings.Repeat("e0", 32)

func TestParseSize(t *testing.T) {
	tests := map[string]Size{
		"":      Size400,
		"200":   Size200,
		"400":   Size400,
		"800":   Size800,
		" 800 ": Size800,
		"100":   Size400,
		"abc":   Size400,
		"-200":  Size400,
	}
	for raw, want := range tests {
		assert.Equal(t, want, ParseSize(raw), "raw=%q", raw)
	}
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"":     FormatNone,
		"webp": FormatWebP,
		"WEBP": FormatWebP,
		"jpeg": FormatJPEG,
		"png":  FormatPNG,
		"jpg":  FormatNone,
		"gif":  FormatNone,
	}
	for raw, want := range tests {
		assert.Equal(t, want, ParseFormat(raw), "raw=%q", raw)
	}
}

func TestVariantKey_BlobKey(t *testing.T) {
	tests := []struct {
		key  VariantKey
		want string
	}{
		{VariantKey{testIdentity, Size400, FormatWebP}, "avatars/" + testIdentity + "/400x400.webp"},
		{VariantKey{testIdentity, Size200, FormatPNG}, "avatars/" + testIdentity + "/200x200.png"},
		{VariantKey{testIdentity, Size800, FormatNone}, "avatars/" + testIdentity + "/original"},
		{VariantKey{testIdentity, SizeNone, FormatJPEG}, "avatars/" + testIdentity + "/original"},
		{VariantKey{testIdentity, SizeNone, FormatNone}, "avatars/" + testIdentity + "/original"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.key.BlobKey())
	}

	// Same composite, same key
	a := VariantKey{testIdentity, Size800, FormatJPEG}
	b := VariantKey{Identity: testIdentity, Format: FormatJPEG, Size: Size800}
	assert.Equal(t, a.BlobKey(), b.BlobKey())
	assert.True(t, strings.HasPrefix(a.BlobKey(), BlobPrefix(testIdentity)))
}

func TestCacheRecord_IsFresh(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	maxAge := 7 * 24 * time.Hour

	rec := &CacheRecord{FetchedAt: now.Add(-maxAge - time.Millisecond).UnixMilli()}
	assert.False(t, rec.IsFresh(now, maxAge))

	rec.FetchedAt = now.Add(-maxAge + time.Millisecond).UnixMilli()
	assert.True(t, rec.IsFresh(now, maxAge))

	rec.FetchedAt = now.Add(-maxAge).UnixMilli()
	assert.False(t, rec.IsFresh(now, maxAge), "exactly maxAge old is stale")

	placeholder := NewPlaceholder(testIdentity, "https://example.com/a.png", 100)
	assert.True(t, placeholder.IsPlaceholder())
	assert.False(t, placeholder.IsFresh(now, maxAge))
	assert.Empty(t, placeholder.Variants)
}

func TestCacheRecord_VariantsAndReset(t *testing.T) {
	rec := &CacheRecord{Identity: testIdentity}
	key := VariantKey{testIdentity, Size400, FormatWebP}

	_, ok := rec.Variant(key)
	assert.False(t, ok)

	rec.SetVariant(key, VariantEntry{BlobKey: key.BlobKey(), ETag: `"x"`})
	entry, ok := rec.Variant(key)
	require.True(t, ok)
	assert.Equal(t, key.BlobKey(), entry.BlobKey)
	rec.FetchedAt = 1

	orphaned := rec.ResetToPlaceholder("https://example.com/new.png", 200)
	assert.Equal(t, []string{key.BlobKey()}, orphaned)
	assert.True(t, rec.IsPlaceholder())
	assert.Empty(t, rec.Variants)
	assert.Equal(t, int64(200), rec.SourceUpdatedAt)
	assert.Equal(t, "https://example.com/new.png", rec.OriginalURL)
}

func TestCacheRecord_Clone(t *testing.T) {
	rec := &CacheRecord{Identity: testIdentity, Variants: map[string]VariantEntry{"original": {BlobKey: "a"}}}
	clone := rec.Clone()
	clone.Variants["original"] = VariantEntry{BlobKey: "b"}
	clone.FailureCount = 3

	assert.Equal(t, "a", rec.Variants["original"].BlobKey)
	assert.Equal(t, 0, rec.FailureCount)

	var nilRec *CacheRecord
	assert.Nil(t, nilRec.Clone())
}

func TestCacheRecord_RecordFailure(t *testing.T) {
	now := time.Unix(1700000000, 0)
	rec := &CacheRecord{}
	rec.RecordFailure(now)
	rec.RecordFailure(now)
	assert.Equal(t, 2, rec.FailureCount)
	assert.Equal(t, now.UnixMilli(), rec.LastFailureAt)
}

func TestProfileRecord_NewerThan(t *testing.T) {
	older := &ProfileRecord{UpdatedAt: 10}
	newer := &ProfileRecord{UpdatedAt: 20}
	assert.True(t, newer.NewerThan(older))
	assert.False(t, older.NewerThan(newer))
	assert.False(t, older.NewerThan(&ProfileRecord{UpdatedAt: 10}))
	assert.True(t, older.NewerThan(nil))
}
