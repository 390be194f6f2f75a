package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrNoBackendInitialized is returned when no app was supplied and none
	// has been initialized.
	ErrNoBackendInitialized = errors.New("no backend app initialized")
	// ErrAuthenticationRequired is stored in a collection's state while no
	// principal is signed in.
	ErrAuthenticationRequired = errors.New("authentication required")
	// ErrNotSubscribed is returned for a collection that was never requested.
	ErrNotSubscribed = errors.New("collection not subscribed")
	// ErrInvalidName is returned for an empty collection name.
	ErrInvalidName = errors.New("invalid collection name")
	// ErrRegistryClosed is returned after Close.
	ErrRegistryClosed = errors.New("registry closed")
)

// StreamError is stored in a collection's state when its data stream fails.
type StreamError struct {
	Collection string
	Err        error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("collection %q stream failed: %v", e.Collection, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// SetupError is stored in a collection's state when its data stream could
// not be opened after sign-in.
type SetupError struct {
	Collection string
	Err        error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("collection %q subscription setup failed: %v", e.Collection, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// Error kinds reported by Kind.
const (
	KindNoBackendInitialized     = "no_backend_initialized"
	KindAuthenticationRequired   = "authentication_required"
	KindBackendStreamFailure     = "backend_stream_failure"
	KindSubscriptionSetupFailure = "subscription_setup_failure"
	KindNotSubscribed            = "not_subscribed"
	KindInvalidName              = "invalid_name"
	KindRegistryClosed           = "registry_closed"
	KindUnknown                  = "unknown"
)

// Kind classifies err into one of the Kind constants. It returns "" for nil.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var streamErr *StreamError
	var setupErr *SetupError
	switch {
	case errors.As(err, &setupErr):
		return KindSubscriptionSetupFailure
	case errors.As(err, &streamErr):
		return KindBackendStreamFailure
	case errors.Is(err, ErrAuthenticationRequired):
		return KindAuthenticationRequired
	case errors.Is(err, ErrNoBackendInitialized):
		return KindNoBackendInitialized
	case errors.Is(err, ErrNotSubscribed):
		return KindNotSubscribed
	case errors.Is(err, ErrInvalidName):
		return KindInvalidName
	case errors.Is(err, ErrRegistryClosed):
		return KindRegistryClosed
	default:
		return KindUnknown
	}
}
