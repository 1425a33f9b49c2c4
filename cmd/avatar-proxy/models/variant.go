package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is the requested edge length in pixels. SizeNone means unset.
type Size int

const (
	SizeNone Size = 0
	Size200  Size = 200
	Size400  Size = 400
	Size800  Size = 800

	// DefaultSize applies when the query parameter is missing or invalid
	DefaultSize = Size400
)

// ParseSize resolves the size query parameter. Missing or unsupported
// values fall back to DefaultSize.
func ParseSize(raw string) Size {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return DefaultSize
	}
	switch Size(n) {
	case Size200, Size400, Size800:
		return Size(n)
	default:
		return DefaultSize
	}
}

// Format is the requested output encoding. FormatNone keeps the original.
type Format string

const (
	FormatNone Format = ""
	FormatWebP Format = "webp"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// ParseFormat resolves the format query parameter. Missing or unsupported
// values yield FormatNone.
func ParseFormat(raw string) Format {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatWebP, FormatJPEG, FormatPNG:
		return f
	default:
		return FormatNone
	}
}

// VariantKey identifies one cached rendition of an identity's avatar
type VariantKey struct {
	Identity string
	Size     Size
	Format   Format
}

// Name is the per-record variant index key, also the last blob key segment
func (k VariantKey) Name() string {
	if k.Size == SizeNone || k.Format == FormatNone {
		return "original"
	}
	return fmt.Sprintf("%dx%d.%s", k.Size, k.Size, k.Format)
}

// BlobKey returns the durable storage locator:
// avatars/{identity}/{size}x{size}.{format} or avatars/{identity}/original
func (k VariantKey) BlobKey() string {
	return BlobPrefix(k.Identity) + k.Name()
}

// BlobPrefix returns the blob key prefix shared by every variant of identity
func BlobPrefix(identity string) string {
	return BlobRoot + identity + "/"
}

// BlobRoot is the prefix of every avatar blob
const BlobRoot = "avatars/"
