// Package domain contains the core tracking entities and logic.
package domain

import "errors"

// Sentinel errors for common domain error cases.
// These allow callers to check error types without coupling to infrastructure.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput indicates the input data is invalid or malformed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrBundleFrozen indicates an append to an already-sealed bundle.
	ErrBundleFrozen = errors.New("bundle is frozen")

	// ErrUnsupportedVersion indicates a durable payload written by an
	// incompatible serialization schema.
	ErrUnsupportedVersion = errors.New("unsupported serialization version")
)
