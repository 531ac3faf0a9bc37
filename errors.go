package reusablestore

import "errors"

// Usage errors, returned synchronously before any layer is touched.
var (
	// ErrInvalidIdentifier is returned when an identifier is empty.
	ErrInvalidIdentifier = errors.New("reusablestore: invalid identifier")

	// ErrInvalidStoreName is returned when a store name is empty.
	ErrInvalidStoreName = errors.New("reusablestore: invalid store name")

	// ErrInvalidExpiry is returned when an expiration time is the zero Time.
	ErrInvalidExpiry = errors.New("reusablestore: invalid expiration date")

	// ErrNilListener is returned by Subscribe when the listener is nil.
	ErrNilListener = errors.New("reusablestore: nil listener")

	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("reusablestore: cache is closed")
)
