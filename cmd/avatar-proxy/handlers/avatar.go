package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/identity"
	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/models"
	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/service"
)

// Logger interface for logging (subset of what's needed)
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// AvatarResolver serves one parsed avatar request
type AvatarResolver interface {
	Resolve(ctx context.Context, req service.Request) (*service.Response, error)
}

// HeaderCache marks whether a response came from cache
const HeaderCache = "X-Cache"

// ErrorResponse is the body of every failed avatar request
type ErrorResponse struct {
	Error           string `json:"error"`
	StatusCode      int    `json:"statusCode"`
	Kind            string `json:"kind"`
	Identity        string `json:"identity,omitempty"`
	OriginalURL     string `json:"originalUrl,omitempty"`
	BotProtection   bool   `json:"botProtection,omitempty"`
	SuggestedAction string `json:"suggestedAction,omitempty"`
}

// AvatarHandler handles avatar requests
type AvatarHandler struct {
	avatars AvatarResolver
	logger  Logger
}

// NewAvatarHandler creates a new avatar handler
func NewAvatarHandler(avatars AvatarResolver, logger Logger) *AvatarHandler {
	return &AvatarHandler{
		avatars: avatars,
		logger:  logger,
	}
}

// GetAvatar serves the picture for a public key
// GET /avatar/:identity?size=400&format=webp
func (h *AvatarHandler) GetAvatar(c echo.Context) error {
	raw := c.Param("identity")
	if !identity.Validate(raw) {
		ae := service.NewValidationError("identity must be 64 hexadecimal characters")
		ae.Identity = raw
		return h.writeError(c, ae)
	}

	req := service.Request{
		Identity: identity.Normalize(raw),
		Size:     models.ParseSize(c.QueryParam("size")),
		Format:   models.ParseFormat(c.QueryParam("format")),
	}

	resp, err := h.avatars.Resolve(c.Request().Context(), req)
	if err != nil {
		return h.writeError(c, err)
	}

	header := c.Response().Header()
	header.Set(echo.HeaderContentType, resp.ContentType)
	header.Set("ETag", resp.ETag)
	header.Set(echo.HeaderLastModified, resp.LastModified.Format(http.TimeFormat))
	header.Set("Cache-Control", resp.CacheControl)
	header.Set(HeaderCache, string(resp.CacheStatus))

	if etagMatches(c.Request().Header.Get("If-None-Match"), resp.ETag) {
		return c.NoContent(http.StatusNotModified)
	}
	return c.Blob(http.StatusOK, resp.ContentType, resp.Body)
}

func (h *AvatarHandler) writeError(c echo.Context, err error) error {
	ae, ok := service.AsAvatarError(err)
	if !ok {
		h.logger.Error("unexpected avatar failure", "path", c.Request().URL.Path, "error", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:      "internal error",
			StatusCode: http.StatusInternalServerError,
			Kind:       string(service.KindInternal),
		})
	}

	if ae.StatusCode >= http.StatusInternalServerError {
		h.logger.Warn("avatar request failed", "identity", ae.Identity, "kind", ae.Kind, "error", err)
	}

	return c.JSON(ae.StatusCode, ErrorResponse{
		Error:           ae.Message,
		StatusCode:      ae.StatusCode,
		Kind:            string(ae.Kind),
		Identity:        ae.Identity,
		OriginalURL:     ae.OriginalURL,
		BotProtection:   ae.BotProtection,
		SuggestedAction: ae.SuggestedAction,
	})
}

// etagMatches implements the If-None-Match comparison (weak, list, "*")
func etagMatches(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" || etag == "" {
		return false
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
