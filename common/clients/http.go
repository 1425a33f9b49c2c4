package clients

import (
	"context"
	"io"
	"net/http"

	"github.com/lyzr/avatar-proxy/common/logger"
)

// Logger interface for HTTP client logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// HTTPClient wraps http.Client with context-aware helpers.
// It sets the User-Agent and forwards the request id found in context.
type HTTPClient struct {
	client    *http.Client
	logger    Logger
	userAgent string
}

// NewHTTPClient creates a new HTTP client wrapper
func NewHTTPClient(client *http.Client, userAgent string, logger Logger) *HTTPClient {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPClient{
		client:    client,
		logger:    logger,
		userAgent: userAgent,
	}
}

// DoRequest creates and executes an HTTP request, extracting metadata from
// context. Extra headers win over the defaults.
func (c *HTTPClient) DoRequest(ctx context.Context, method, url string, body io.Reader, headers http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	if requestID, ok := logger.RequestIDFromContext(ctx); ok {
		req.Header.Set("X-Request-ID", requestID)
	}

	for k, values := range headers {
		req.Header.Del(k)
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	c.logger.Debug("outbound request", "method", method, "host", req.URL.Host)
	return c.client.Do(req)
}
