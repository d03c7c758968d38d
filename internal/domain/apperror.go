package domain

import (
	"errors"
	"fmt"
)

// ErrorKind identifies the variant of an AppError. The set is closed:
// every failure surfaced by the pipeline is one of these kinds.
type ErrorKind string

const (
	ErrorKindNetwork    ErrorKind = "network"
	ErrorKindProcessing ErrorKind = "processing"
	ErrorKindStorage    ErrorKind = "storage"
	ErrorKindPermission ErrorKind = "permission"
	ErrorKindInvalidURL ErrorKind = "invalid_url"
	ErrorKindUnknown    ErrorKind = "unknown"
)

// Stage identifies the pipeline phase an error occurred in.
type Stage string

const (
	StageExtraction Stage = "extraction"
	StageDownload   Stage = "download"
	StageSplitting  Stage = "splitting"
)

// AppError is the single error type crossing pipeline boundaries.
// Instances are constructed by the classifier or by explicit validation
// checks and are never mutated afterwards.
type AppError struct {
	Kind      ErrorKind
	Message   string
	Retryable bool

	// Kind-specific detail. Only the fields belonging to Kind are set.
	StatusCode     int    // network
	Stage          Stage  // processing
	Path           string // storage
	RequiredBytes  int64  // storage
	AvailableBytes int64  // storage
	Permission     string // permission
	URL            string // invalid_url

	cause error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind) + " error"
}

// Unwrap returns the underlying cause, if any.
func (e *AppError) Unwrap() error {
	return e.cause
}

// NewNetworkError creates a network failure. Network failures are
// transient by nature and therefore retryable.
func NewNetworkError(message string, statusCode int, cause error) *AppError {
	return &AppError{
		Kind:       ErrorKindNetwork,
		Message:    message,
		Retryable:  true,
		StatusCode: statusCode,
		cause:      cause,
	}
}

// NewProcessingError creates a media-processing failure for the given
// stage. Re-running the same input reproduces the same failure, so these
// are not retryable.
func NewProcessingError(message string, stage Stage, cause error) *AppError {
	return &AppError{
		Kind:      ErrorKindProcessing,
		Message:   message,
		Retryable: false,
		Stage:     stage,
		cause:     cause,
	}
}

// NewStorageError creates a local storage failure. requiredBytes and
// availableBytes may be zero when the failure is not space related.
func NewStorageError(message, path string, requiredBytes, availableBytes int64, cause error) *AppError {
	return &AppError{
		Kind:           ErrorKindStorage,
		Message:        message,
		Retryable:      false,
		Path:           path,
		RequiredBytes:  requiredBytes,
		AvailableBytes: availableBytes,
		cause:          cause,
	}
}

// NewPermissionError creates an access-denied failure. The operator can
// grant access, so these are retryable.
func NewPermissionError(message, permission string, cause error) *AppError {
	return &AppError{
		Kind:       ErrorKindPermission,
		Message:    message,
		Retryable:  true,
		Permission: permission,
		cause:      cause,
	}
}

// NewInvalidURLError creates a malformed-URL failure.
func NewInvalidURLError(url string) *AppError {
	return &AppError{
		Kind:      ErrorKindInvalidURL,
		Message:   fmt.Sprintf("invalid source URL: %q", url),
		Retryable: false,
		URL:       url,
	}
}

// NewUnknownError creates a fallback error for causes outside the known
// taxonomy. Retryability depends on where the failure was observed: raw
// unmatched causes are final, while failures caught at the controller
// boundary are assumed transient.
func NewUnknownError(message string, retryable bool, cause error) *AppError {
	return &AppError{
		Kind:      ErrorKindUnknown,
		Message:   message,
		Retryable: retryable,
		cause:     cause,
	}
}

// RestoredError rebuilds an AppError from its persisted kind, message
// and retryability, for failures replayed across a process restart.
// Kind-specific detail fields are not persisted and stay zero.
func RestoredError(kind ErrorKind, message string, retryable bool) *AppError {
	if kind == "" {
		kind = ErrorKindUnknown
	}
	return &AppError{
		Kind:      kind,
		Message:   message,
		Retryable: retryable,
	}
}

// AsAppError extracts an *AppError from err if it already carries one.
func AsAppError(err error) (*AppError, bool) {
	var ae *AppError
	if err == nil {
		return nil, false
	}
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
