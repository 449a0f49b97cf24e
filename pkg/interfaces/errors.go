package interfaces

import "errors"

// Errors shared across collaborator implementations.
var (
	ErrAuthFailed       = errors.New("authentication failed")
	ErrOriginNotAllowed = errors.New("origin not allowed")
	ErrSinkClosed       = errors.New("event sink is closed")
)
