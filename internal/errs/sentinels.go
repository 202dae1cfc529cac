// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrWrongPassword indicates the password did not match the stored credential.
	ErrWrongPassword = errors.New("wrong password")

	// ErrStoreUnavailable indicates the store could not answer (not open, I/O, corruption).
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidInput indicates the request failed credential policy checks.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnauthorized indicates a missing, invalid or expired session.
	ErrUnauthorized = errors.New("unauthorized")
)
