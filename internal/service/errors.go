package service

import "errors"

// Sentinel errors for the service's failure taxonomy. Callers classify with
// errors.Is; anything else wrapping out of an operation is a persistence
// failure and propagates as-is.
var (
	// ErrNotFound reports that a referenced conversation or message does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument reports a malformed request, e.g. mismatched
	// participant arrays or empty message content.
	ErrInvalidArgument = errors.New("invalid argument")
)
