package fetcher

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed fetch
type ErrorKind string

const (
	KindHTTPStatus      ErrorKind = "HttpStatus"
	KindUnsupportedType ErrorKind = "UnsupportedType"
	KindTooLarge        ErrorKind = "TooLarge"
	KindBotChallenge    ErrorKind = "BotChallenge"
	KindBlockedOrHTML   ErrorKind = "BlockedOrHtml"
	KindTimeout         ErrorKind = "Timeout"
	KindInvalidImage    ErrorKind = "InvalidImage"
	KindProxy           ErrorKind = "Proxy"
	KindUnknown         ErrorKind = "Unknown"
)

// FetchError describes why an origin download failed
type FetchError struct {
	Kind ErrorKind
	URL  string

	// Code is the origin (or proxy) HTTP status where one was received
	Code int

	Message string

	// Explanation is a human-readable description of a detected bot challenge
	Explanation string

	// ViaProxy is set when the failure came from the secondary fetch path
	ViaProxy bool

	Err error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	if e.Code != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// AsFetchError extracts a *FetchError from err
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// ErrUnrecognizedImage is returned by DetectFormat
var ErrUnrecognizedImage = errors.New("payload is not a recognised image")
