package fetcher

import (
	"bytes"
	"mime"
	"path"
	"strings"
)

var allowedTypes = map[string]string{
	"image/jpeg": "image/jpeg",
	"image/jpg":  "image/jpeg",
	"image/png":  "image/png",
	"image/gif":  "image/gif",
	"image/webp": "image/webp",
}

var extensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// resolveContentType prefers an allowed declared type, then the URL
// extension. htmlDeclared reports an HTML declaration with no usable
// fallback; the body is then sniffed for a challenge page before rejecting.
func resolveContentType(declared, rawURL string) (contentType string, htmlDeclared bool, ok bool) {
	mediaType := strings.ToLower(strings.TrimSpace(declared))
	if mt, _, err := mime.ParseMediaType(declared); err == nil {
		mediaType = mt
	}

	if ct, found := allowedTypes[mediaType]; found {
		return ct, false, true
	}

	if ct, found := extensionTypes[urlExtension(rawURL)]; found {
		return ct, false, true
	}

	if mediaType == "text/html" || mediaType == "application/xhtml+xml" {
		return "", true, false
	}
	return "", false, false
}

func urlExtension(rawURL string) string {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return strings.ToLower(path.Ext(p))
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// looksLikeHTML checks the start of body for an HTML document signature
func looksLikeHTML(body []byte) bool {
	head := body
	if len(head) > 512 {
		head = head[:512]
	}
	head = bytes.TrimPrefix(head, utf8BOM)
	head = bytes.TrimLeft(head, " \t\r\n")
	lower := bytes.ToLower(head)
	return bytes.HasPrefix(lower, []byte("<html")) || bytes.HasPrefix(lower, []byte("<!doctype html"))
}

// challengeMarker identifies one known bot-protection interstitial
type challengeMarker struct {
	needle      string
	explanation string
}

var challengeMarkers = []challengeMarker{
	{"sgcaptcha", "origin is behind a CAPTCHA gateway that blocks automated downloads"},
	{"cf-browser-verification", "origin requires interactive browser verification"},
	{"checking your browser", "origin requires interactive browser verification"},
	{"cf_chl_opt", "origin served a browser challenge page"},
	{"/cdn-cgi/challenge-platform/", "origin served a browser challenge page"},
}

// detectChallenge returns an explanation when html contains a known marker
func detectChallenge(html []byte) (string, bool) {
	lower := bytes.ToLower(html)
	for _, m := range challengeMarkers {
		if bytes.Contains(lower, []byte(m.needle)) {
			return m.explanation, true
		}
	}
	return "", false
}

type signature struct {
	offset   int
	magic    []byte
	mimeType string
}

var imageSignatures = []signature{
	{0, []byte{0xFF, 0xD8, 0xFF}, "image/jpeg"},
	{0, []byte{0x89, 0x50, 0x4E, 0x47}, "image/png"},
	{0, []byte("GIF"), "image/gif"},
}

// DetectFormat identifies the image type from magic bytes
func DetectFormat(body []byte) (string, error) {
	for _, sig := range imageSignatures {
		end := sig.offset + len(sig.magic)
		if len(body) >= end && bytes.Equal(body[sig.offset:end], sig.magic) {
			return sig.mimeType, nil
		}
	}

	// RIFF....WEBP
	if len(body) >= 12 && bytes.Equal(body[0:4], []byte("RIFF")) && bytes.Equal(body[8:12], []byte("WEBP")) {
		return "image/webp", nil
	}

	return "", ErrUnrecognizedImage
}
