package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/jw6ventures/calsync/internal/store"
)

var (
	// ErrUnavailable is a transient upstream failure; the next scheduled run retries.
	ErrUnavailable = errors.New("provider unavailable")
	// ErrAuthExpired means the stored credential was rejected and the user must re-link.
	ErrAuthExpired = errors.New("provider authorization expired")
	// ErrMalformedPayload means the upstream answered successfully with content we cannot use.
	ErrMalformedPayload = errors.New("malformed provider payload")
)

// Error annotates a provider failure with the upstream status code, if any.
type Error struct {
	Provider   store.ProviderKind
	Kind       error
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the taxonomy sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Unavailable builds an ErrUnavailable error.
func Unavailable(kind store.ProviderKind, status int, err error) error {
	return &Error{Provider: kind, Kind: ErrUnavailable, StatusCode: status, Err: err}
}

// AuthExpired builds an ErrAuthExpired error.
func AuthExpired(kind store.ProviderKind, status int, err error) error {
	return &Error{Provider: kind, Kind: ErrAuthExpired, StatusCode: status, Err: err}
}

// Malformed builds an ErrMalformedPayload error.
func Malformed(kind store.ProviderKind, err error) error {
	return &Error{Provider: kind, Kind: ErrMalformedPayload, Err: err}
}

// StatusCode returns the upstream status recorded in err, or 0.
func StatusCode(err error) int {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.StatusCode
	}
	return 0
}

// Transport classifies a failure that happened before a usable response
// arrived. Timeouts and network errors are transient; caller cancellation is
// passed through untouched.
func Transport(kind store.ProviderKind, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return Unavailable(kind, 0, err)
}
