package domain

import "errors"

// Common domain errors
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidState = errors.New("invalid state")

	// Session domain errors
	ErrSessionNotFound = errors.New("session not found")
	ErrNotRetryable    = errors.New("session is not in a retryable error state")

	// Download task domain errors
	ErrTaskNotFound = errors.New("download task not found")
)
