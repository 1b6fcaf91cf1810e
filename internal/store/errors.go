package store

import "errors"

// Sentinel errors shared by every backing-store implementation. Services wrap
// them with context but never replace them, so HTTP handlers can map the class
// of failure without inspecting strings.
var (
	// ErrNotFound signals a single-record read miss.
	ErrNotFound = errors.New("record not found")
	// ErrAuthenticationRequired signals that no actor identity could be
	// resolved for a write, even after the bounded retry window.
	ErrAuthenticationRequired = errors.New("authentication required")
	// ErrValidation signals a malformed scope key, status value, or record.
	ErrValidation = errors.New("validation failed")
	// ErrPersistence signals that the backing-store call itself failed.
	ErrPersistence = errors.New("persistence failure")
	// ErrPartialData signals that the primary fetch succeeded but one or more
	// secondary lookups degraded to placeholders.
	ErrPartialData = errors.New("partial data")
)
