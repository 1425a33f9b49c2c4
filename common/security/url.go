package security

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// ErrURLRejected marks every validation failure
var ErrURLRejected = errors.New("url rejected")

// Options tunes which checks run
type Options struct {
	// BlockPrivateHosts enables DNS-based SSRF checks
	BlockPrivateHosts bool
	Resolver          Resolver
}

// URLValidator runs scheme, host and path checks against outbound URLs
type URLValidator struct {
	protocolValidator *ProtocolValidator
	hostValidator     *HostValidator
	pathValidator     *PathValidator
	blockPrivateHosts bool
}

// NewURLValidator creates a URL validator
func NewURLValidator(opts Options) *URLValidator {
	hv := NewHostValidator()
	if opts.Resolver != nil {
		hv = NewHostValidatorWithResolver(opts.Resolver)
	}
	return &URLValidator{
		protocolValidator: NewProtocolValidator(),
		hostValidator:     hv,
		pathValidator:     NewPathValidator(),
		blockPrivateHosts: opts.BlockPrivateHosts,
	}
}

// Validate parses rawURL and runs every enabled check. Errors wrap
// ErrURLRejected.
func (v *URLValidator) Validate(ctx context.Context, rawURL string) (*url.URL, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL format: %v", ErrURLRejected, err)
	}

	if err := v.protocolValidator.Validate(parsedURL.Scheme); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrURLRejected, err)
	}

	if parsedURL.Hostname() == "" {
		return nil, fmt.Errorf("%w: hostname is required", ErrURLRejected)
	}

	if v.blockPrivateHosts {
		if err := v.hostValidator.Validate(ctx, parsedURL.Hostname()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrURLRejected, err)
		}
	}

	if err := v.pathValidator.Validate(parsedURL.EscapedPath()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrURLRejected, err)
	}

	return parsedURL, nil
}
