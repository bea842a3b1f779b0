package domain

import "errors"

// Domain errors
var (
	ErrSessionNotFound        = errors.New("session not found")
	ErrSessionAlreadyFinished = errors.New("session is already finished")
	ErrSessionChanged         = errors.New("session received new events while finishing")
	ErrActiveSessionExists    = errors.New("player already has an active session")
	ErrPlayerNotFound         = errors.New("player not found")
	ErrPlayerExists           = errors.New("player already exists")
	ErrForbidden              = errors.New("session belongs to another player")
	ErrValidation             = errors.New("validation failed")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrInternalError          = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrPlayerNotFound)
}

// IsConflictError reports errors caused by the current state of a resource
func IsConflictError(err error) bool {
	return errors.Is(err, ErrSessionAlreadyFinished) ||
		errors.Is(err, ErrSessionChanged) ||
		errors.Is(err, ErrActiveSessionExists) ||
		errors.Is(err, ErrPlayerExists)
}

// IsValidationError checks if an error was caused by malformed input
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrInvalidRequest)
}
