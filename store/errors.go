package store

import "errors"

// Sentinel errors for store operations.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	// ErrCorrupt marks a stored record that cannot be decoded.
	ErrCorrupt = errors.New("corrupt record")
	// ErrUnavailable marks a failure to reach the backing store. Errors
	// wrapping it are treated as transport failures.
	ErrUnavailable = errors.New("storage unavailable")
)
