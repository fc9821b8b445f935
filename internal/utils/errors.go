package utils

import "errors"

// Common application errors used across services. All are local, recoverable
// conditions returned to the caller; none is fatal.
var (
	ErrNotFound        = errors.New("NOT_FOUND")
	ErrInvalidState    = errors.New("INVALID_STATE")
	ErrInvalidKind     = errors.New("INVALID_KIND")
	ErrUnauthenticated = errors.New("UNAUTHENTICATED")
	ErrInvalidInput    = errors.New("INVALID_INPUT")
)
