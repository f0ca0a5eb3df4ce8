package models

import "errors"

// Error taxonomy shared across server components. The API layer maps these to
// HTTP status codes with errors.Is; lower layers wrap them with context.
var (
	// ErrValidation marks malformed or out-of-range request input. It never
	// follows a state mutation.
	ErrValidation = errors.New("invalid input")

	// ErrNotFound marks a referenced machine, command or user that does not
	// exist or is not in the expected state.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks an operation rejected by an invariant, such as
	// enqueueing a command for an offline machine.
	ErrConflict = errors.New("conflict")

	// ErrUnauthorized marks a missing, invalid or expired credential.
	ErrUnauthorized = errors.New("unauthorized")
)
