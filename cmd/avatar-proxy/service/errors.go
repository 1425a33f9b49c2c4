package service

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/fetcher"
)

// ErrorKind names a client-visible failure class
type ErrorKind string

const (
	KindValidation        ErrorKind = "ValidationError"
	KindProfileNotFound   ErrorKind = "ProfileNotFound"
	KindRelayUnavailable  ErrorKind = "RelayUnavailable"
	KindInvalidPictureURL ErrorKind = "InvalidPictureUrl"
	KindInternal          ErrorKind = "Unknown"
)

// SuggestedLinkOriginal tells clients to load the picture from its source
const SuggestedLinkOriginal = "link_original"

// AvatarError is an engine failure shaped for an HTTP response. Fetch
// failures keep their fetcher kind (HttpStatus, TooLarge, ...).
type AvatarError struct {
	Kind            ErrorKind
	StatusCode      int
	Message         string
	Identity        string
	OriginalURL     string
	BotProtection   bool
	SuggestedAction string
	Err             error
}

func (e *AvatarError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AvatarError) Unwrap() error {
	return e.Err
}

// AsAvatarError extracts an *AvatarError from err
func AsAvatarError(err error) (*AvatarError, bool) {
	var ae *AvatarError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// NewValidationError reports a malformed request
func NewValidationError(message string) *AvatarError {
	return &AvatarError{
		Kind:       KindValidation,
		StatusCode: http.StatusBadRequest,
		Message:    message,
	}
}

func profileNotFound(identity string) *AvatarError {
	return &AvatarError{
		Kind:       KindProfileNotFound,
		StatusCode: http.StatusNotFound,
		Message:    fmt.Sprintf("no profile picture found for %s", identity),
		Identity:   identity,
	}
}

func relayUnavailable(identity string, err error) *AvatarError {
	return &AvatarError{
		Kind:       KindRelayUnavailable,
		StatusCode: http.StatusServiceUnavailable,
		Message:    "profile relay is unreachable",
		Identity:   identity,
		Err:        err,
	}
}

func invalidPictureURL(identity, pictureURL string, err error) *AvatarError {
	return &AvatarError{
		Kind:        KindInvalidPictureURL,
		StatusCode:  http.StatusUnprocessableEntity,
		Message:     "profile picture url is not allowed",
		Identity:    identity,
		OriginalURL: pictureURL,
		Err:         err,
	}
}

// fromFetchError maps a fetch failure to its response status
func fromFetchError(identity, pictureURL string, err error) *AvatarError {
	fe, ok := fetcher.AsFetchError(err)
	if !ok {
		return &AvatarError{
			Kind:        KindInternal,
			StatusCode:  http.StatusInternalServerError,
			Message:     "unexpected fetch failure",
			Identity:    identity,
			OriginalURL: pictureURL,
			Err:         err,
		}
	}

	ae := &AvatarError{
		Kind:        ErrorKind(fe.Kind),
		StatusCode:  FetchStatus(fe),
		Message:     fe.Message,
		Identity:    identity,
		OriginalURL: pictureURL,
		Err:         err,
	}

	switch fe.Kind {
	case fetcher.KindBotChallenge:
		ae.BotProtection = true
		ae.SuggestedAction = SuggestedLinkOriginal
		if fe.Explanation != "" {
			ae.Message = fe.Explanation
		}
	case fetcher.KindBlockedOrHTML:
		ae.SuggestedAction = SuggestedLinkOriginal
	}
	return ae
}

// FetchStatus returns the HTTP status a fetch failure is reported with
func FetchStatus(fe *fetcher.FetchError) int {
	switch fe.Kind {
	case fetcher.KindHTTPStatus:
		switch fe.Code {
		case http.StatusNotFound, http.StatusGone:
			return http.StatusNotFound
		case http.StatusForbidden:
			return http.StatusForbidden
		default:
			return http.StatusBadGateway
		}
	case fetcher.KindUnsupportedType, fetcher.KindInvalidImage:
		return http.StatusUnsupportedMediaType
	case fetcher.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case fetcher.KindBotChallenge, fetcher.KindBlockedOrHTML:
		return http.StatusForbidden
	case fetcher.KindTimeout:
		return http.StatusGatewayTimeout
	case fetcher.KindProxy:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
