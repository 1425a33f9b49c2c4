package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/lyzr/avatar-proxy/common/clients"
	"github.com/lyzr/avatar-proxy/common/security"
)

// maxRedirects caps origin redirect chains
const maxRedirects = 5

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Config holds download limits and the optional secondary fetch path
type Config struct {
	Timeout  time.Duration
	MaxBytes int64

	// ProxyURL receives GET ?url=<escaped origin url> with a bearer token
	ProxyURL     string
	ProxyToken   string
	ProxyTimeout time.Duration
}

// Result is a successful download
type Result struct {
	Body        []byte
	ContentType string
	ViaProxy    bool
}

// Fetcher downloads avatar images from their origin
type Fetcher struct {
	http   *clients.HTTPClient
	cfg    Config
	logger Logger
}

// New creates a fetcher
func New(httpClient *clients.HTTPClient, cfg Config, logger Logger) *Fetcher {
	return &Fetcher{
		http:   httpClient,
		cfg:    cfg,
		logger: logger,
	}
}

// NewHTTPClient returns an http.Client whose redirects are re-checked by
// validator so an origin cannot bounce the download to an internal host
func NewHTTPClient(validator *security.URLValidator) *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if _, err := validator.Validate(req.Context(), req.URL.String()); err != nil {
				return err
			}
			return nil
		},
	}
}

// ProxyEnabled reports whether the secondary path is configured
func (f *Fetcher) ProxyEnabled() bool {
	return f.cfg.ProxyURL != "" && f.cfg.ProxyToken != ""
}

// Fetch downloads rawURL. Failures are *FetchError. An origin 403 is
// retried once through the proxy when one is configured.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	start := time.Now()

	res, err := f.fetch(ctx, rawURL, rawURL, f.cfg.Timeout, nil)
	if err != nil {
		fe, _ := AsFetchError(err)
		if fe != nil && fe.Kind == KindHTTPStatus && fe.Code == http.StatusForbidden && f.ProxyEnabled() {
			f.logger.Info("origin denied access, retrying through proxy", "url", rawURL)
			res, err = f.fetchViaProxy(ctx, rawURL)
		}
	}

	if err != nil {
		kind := KindUnknown
		if fe, ok := AsFetchError(err); ok {
			kind = fe.Kind
		}
		fetchesTotal.WithLabelValues(string(kind)).Inc()
		f.logger.Warn("fetch failed", "url", rawURL, "kind", kind, "error", err)
		return nil, err
	}

	fetchesTotal.WithLabelValues("ok").Inc()
	fetchDuration.Observe(time.Since(start).Seconds())
	f.logger.Debug("fetched image", "url", rawURL, "bytes", len(res.Body), "content_type", res.ContentType, "via_proxy", res.ViaProxy)
	return res, nil
}

func (f *Fetcher) fetchViaProxy(ctx context.Context, rawURL string) (*Result, error) {
	proxyURL, err := url.Parse(f.cfg.ProxyURL)
	if err != nil {
		return nil, &FetchError{Kind: KindProxy, URL: rawURL, Message: "invalid proxy url", Err: err, ViaProxy: true}
	}
	q := proxyURL.Query()
	q.Set("url", rawURL)
	proxyURL.RawQuery = q.Encode()

	headers := http.Header{"Authorization": []string{"Bearer " + f.cfg.ProxyToken}}

	res, err := f.fetch(ctx, proxyURL.String(), rawURL, f.cfg.ProxyTimeout, headers)
	if err != nil {
		fe, ok := AsFetchError(err)
		if !ok {
			return nil, err
		}
		fe.ViaProxy = true
		switch fe.Kind {
		case KindHTTPStatus, KindTimeout, KindUnknown:
			// Transport-level failures of the proxy surface as their own kind
			fe.Message = fmt.Sprintf("proxy fetch failed: %s", fe.Kind)
			fe.Kind = KindProxy
		}
		return nil, fe
	}
	res.ViaProxy = true
	return res, nil
}

// fetch performs one bounded GET of target. originalURL is used for type
// inference and error reporting.
func (f *Fetcher) fetch(ctx context.Context, target, originalURL string, timeout time.Duration, headers http.Header) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := f.http.DoRequest(ctx, http.MethodGet, target, nil, headers)
	if err != nil {
		return nil, transportError(ctx, originalURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{
			Kind:    KindHTTPStatus,
			URL:     originalURL,
			Code:    resp.StatusCode,
			Message: http.StatusText(resp.StatusCode),
		}
	}

	contentType, htmlDeclared, ok := resolveContentType(resp.Header.Get("Content-Type"), originalURL)
	if !ok && !htmlDeclared {
		return nil, &FetchError{
			Kind:    KindUnsupportedType,
			URL:     originalURL,
			Message: fmt.Sprintf("content type %q is not an allowed image type", resp.Header.Get("Content-Type")),
		}
	}

	if resp.ContentLength > f.cfg.MaxBytes {
		return nil, &FetchError{
			Kind:    KindTooLarge,
			URL:     originalURL,
			Message: fmt.Sprintf("declared size %d exceeds limit %d", resp.ContentLength, f.cfg.MaxBytes),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return nil, transportError(ctx, originalURL, err)
	}
	if int64(len(body)) > f.cfg.MaxBytes {
		return nil, &FetchError{
			Kind:    KindTooLarge,
			URL:     originalURL,
			Message: fmt.Sprintf("payload exceeds limit %d", f.cfg.MaxBytes),
		}
	}

	if looksLikeHTML(body) {
		if explanation, found := detectChallenge(body); found {
			return nil, &FetchError{
				Kind:        KindBotChallenge,
				URL:         originalURL,
				Code:        resp.StatusCode,
				Message:     "origin served a bot challenge instead of an image",
				Explanation: explanation,
			}
		}
		return nil, &FetchError{
			Kind:    KindBlockedOrHTML,
			URL:     originalURL,
			Code:    resp.StatusCode,
			Message: "origin served an HTML page instead of an image",
		}
	}

	if htmlDeclared {
		return nil, &FetchError{
			Kind:    KindUnsupportedType,
			URL:     originalURL,
			Message: "origin declared text/html",
		}
	}

	return &Result{Body: body, ContentType: contentType}, nil
}

// transportError classifies a failed round trip or body read
func transportError(ctx context.Context, rawURL string, err error) *FetchError {
	var netErr net.Error
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return &FetchError{Kind: KindTimeout, URL: rawURL, Message: "request timed out or was aborted", Err: err}
	}
	return &FetchError{Kind: KindUnknown, URL: rawURL, Message: err.Error(), Err: err}
}
