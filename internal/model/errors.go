package model

import "errors"

var (
	// ErrInvalidSessionName is returned when a session name contains characters outside [A-Za-z0-9_-].
	ErrInvalidSessionName = errors.New("invalid session name: must contain only alphanumeric, underscore, or hyphen")

	// ErrInvalidAction is returned when an approval action is not approve, always, or deny.
	ErrInvalidAction = errors.New("invalid action: must be approve, always, or deny")

	// ErrSessionNotFound is returned when a session is not tracked.
	ErrSessionNotFound = errors.New("session not found")
)

// ValidationError reports an inbound value that was refused before dispatch.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func newValidationError(field, value string, err error) error {
	return &ValidationError{Field: field, Value: value, Err: err}
}
