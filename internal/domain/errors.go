package domain

import "errors"

// Sentinel errors for the decisioning core. Handlers map these to HTTP
// statuses; everything else is a 500.
var (
	// ErrNotFound means a loan, client, decision, or ruleset id did not
	// resolve.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidState means the loan status or decision finality forbids
	// the requested transition.
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrUnauthorized means a required actor id was missing.
	ErrUnauthorized = errors.New("actor not authorized")

	// ErrInvalidInput means a request failed validation.
	ErrInvalidInput = errors.New("invalid input")
)
