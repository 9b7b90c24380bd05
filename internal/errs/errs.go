// Package errs contains the sentinel errors used across layers for stable
// error mapping. Components wrap these with fmt.Errorf("...: %w", ...) and
// callers classify with errors.Is.
package errs

import "errors"

var (
	// ErrNotFound indicates the referenced user, group, or ban does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRequest indicates a request that can never succeed as given
	// (self-ban, self-report, malformed scope).
	ErrInvalidRequest = errors.New("invalid request")

	// ErrConflict indicates the requested state already exists (duplicate
	// report, duplicate active ban).
	ErrConflict = errors.New("conflict")

	// ErrForbidden indicates a banned user attempting a gated action.
	ErrForbidden = errors.New("forbidden")

	// ErrAuthFailure indicates a rejected credential at connection time.
	ErrAuthFailure = errors.New("authentication failed")

	// ErrUnavailable indicates a transient backing-store failure. The
	// triggering action fails and is surfaced; nothing is buffered or
	// retried on the caller's behalf.
	ErrUnavailable = errors.New("temporarily unavailable")
)
