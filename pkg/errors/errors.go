package errors

import (
	"errors"
	"fmt"
)

// Common application errors
var (
	// Registry errors
	ErrModelNotFound    = errors.New("model not found")
	ErrVersionNotFound  = errors.New("model version not found")
	ErrInvalidArtifact  = errors.New("artifact reference cannot be resolved")
	ErrInvalidVersion   = errors.New("invalid semantic version")
	ErrDuplicateVersion = errors.New("model version already exists")
	ErrInvalidModelName = errors.New("invalid model name")
	ErrNoActiveVersion  = errors.New("no active version for model")

	// Deployment errors
	ErrAlreadyActive       = errors.New("version is already active")
	ErrNoPriorVersion      = errors.New("no prior version to roll back to")
	ErrValidationFailed    = errors.New("deployment validation failed")
	ErrConcurrencyConflict = errors.New("lost per-model deployment race")
	ErrDryRunCancelled     = errors.New("dry-run validation cancelled")

	// Monitoring errors
	ErrSampleDropped   = errors.New("metric sample dropped: ingestion queue full")
	ErrMalformedSample = errors.New("malformed metric sample")
	ErrUnknownMetric   = errors.New("unknown metric name")
	ErrEngineStopped   = errors.New("monitoring engine stopped")

	// Retrain errors
	ErrRequestNotFound   = errors.New("retrain request not found")
	ErrInvalidTransition = errors.New("invalid retrain status transition")
	ErrDispatchFailed    = errors.New("retrain dispatch failed")

	// Storage errors
	ErrStorageUnavailable = errors.New("durable store unavailable")
	ErrStorageTimeout     = errors.New("storage operation timeout")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing configuration")

	// Internal errors
	ErrInternal = errors.New("internal error")
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeState         ErrorType = "state"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeStorage       ErrorType = "storage"
	ErrorTypeMonitoring    ErrorType = "monitoring"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeInternal      ErrorType = "internal"
)

// AppError represents an application-specific error with additional context
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Retryable  bool                   `json:"retryable"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		Retryable:  false,
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

// WrapError wraps an existing error with application context
func WrapError(err error, errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		Cause:      err,
		Retryable:  isRetryable(err),
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

// NewNotFoundError creates a not-found error
func NewNotFoundError(code, message string) *AppError {
	return NewAppError(ErrorTypeNotFound, code, message)
}

// NewValidationError creates a validation error
func NewValidationError(code, message string) *AppError {
	return NewAppError(ErrorTypeValidation, code, message)
}

// NewStateError creates a state-machine precondition error. These are
// reported to the caller and never retried.
func NewStateError(code, message string) *AppError {
	return NewAppError(ErrorTypeState, code, message)
}

// NewConflictError creates a concurrency-conflict error. The per-model
// critical section has already resolved, so an immediate retry is safe.
func NewConflictError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		Retryable:  true,
		HTTPStatus: 409,
	}
}

// NewStorageError creates a storage error
func NewStorageError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeStorage,
		Code:       code,
		Message:    message,
		Retryable:  true,
		HTTPStatus: 503,
	}
}

// NewMonitoringError creates a monitoring diagnostic error
func NewMonitoringError(code, message string) *AppError {
	return NewAppError(ErrorTypeMonitoring, code, message)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Retryable:  false,
		HTTPStatus: 500,
	}
}

// getDefaultHTTPStatus returns the default HTTP status for an error type
func getDefaultHTTPStatus(errType ErrorType) int {
	switch errType {
	case ErrorTypeNotFound:
		return 404
	case ErrorTypeValidation:
		return 400
	case ErrorTypeState:
		return 422
	case ErrorTypeConflict:
		return 409
	case ErrorTypeStorage, ErrorTypeConfiguration:
		return 503
	case ErrorTypeMonitoring:
		return 500
	default:
		return 500
	}
}

// isRetryable determines if an error is retryable
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrStorageUnavailable):
		return true
	case errors.Is(err, ErrStorageTimeout):
		return true
	case errors.Is(err, ErrConcurrencyConflict):
		return true
	default:
		return false
	}
}

// ErrorResponse represents an error response for APIs
type ErrorResponse struct {
	Error     *AppError `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp string    `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
}
