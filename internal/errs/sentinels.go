// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service/transport layers.
var (
	// ErrNotFound indicates the requested conversation, user or pending entry does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthenticated indicates a missing or invalid bearer token or bad credentials.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden indicates an authenticated caller lacks the right to perform the action
	// (e.g. a non-admin approving a join request).
	ErrForbidden = errors.New("forbidden")

	// ErrMalformedKey indicates an unparsable or incomplete key-wrap envelope or key material.
	ErrMalformedKey = errors.New("malformed key")

	// ErrDecryption indicates an authenticated-encryption open failed (wrong key or corrupted payload).
	ErrDecryption = errors.New("decryption failed")

	// ErrInvalidArgument indicates request validation failure.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict indicates the request conflicts with the current membership state.
	ErrConflict = errors.New("conflict")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")
)
