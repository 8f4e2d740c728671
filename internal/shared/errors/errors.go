package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// MaxBatchSize is the hard cap on the number of writes a backend accepts in
// a single atomic batch.
const MaxBatchSize = 500

// Error types for different domains
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "VALIDATION_ERROR"
	ErrorTypeBackend        ErrorType = "BACKEND_ERROR"
	ErrorTypeAuthentication ErrorType = "AUTHENTICATION_ERROR"
	ErrorTypeNotFound       ErrorType = "NOT_FOUND_ERROR"
	ErrorTypeConflict       ErrorType = "CONFLICT_ERROR"
	ErrorTypeUnsupported    ErrorType = "UNSUPPORTED_ERROR"
	ErrorTypeTimeout        ErrorType = "TIMEOUT_ERROR"
	ErrorTypeInternal       ErrorType = "INTERNAL_ERROR"
)

// Error codes carried by AppError.Code. The numeric batch code mirrors the
// first code past the backend's sixteen canonical status codes.
const (
	CodeBatchSizeExceeded     = "17"
	CodeBatchAlreadyCommitted = "BATCH_ALREADY_COMMITTED"
	CodeUnsupported           = "UNSUPPORTED"
	CodeTimeout               = "TIMEOUT"
)

// Sentinel errors raised locally by the reactive layer and the stores.
var (
	ErrBatchSizeExceeded = errors.New("batch size should be less than 500")
	ErrTimeout           = errors.New("operation timed out")
	ErrNotFound          = errors.New("resource not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidToken      = errors.New("invalid token")
	ErrInvalidPath       = errors.New("invalid document path")
	ErrInvalidQuery      = errors.New("invalid query")
	ErrBatchCommitted    = errors.New("batch has already been committed")
	ErrUnsupported       = errors.New("operation not supported by backend")
)

// AppError represents a custom application error with context
type AppError struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	HTTPCode  int                    `json:"-"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	Component string                 `json:"component,omitempty"`
}

// Error implements the error interface. A cause whose text repeats the
// message is not printed twice.
func (e *AppError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, httpCode int) *AppError {
	return &AppError{
		Type:     errorType,
		Message:  message,
		HTTPCode: httpCode,
		Details:  make(map[string]interface{}),
	}
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithCause adds the underlying cause
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithComponent adds the component name
func (e *AppError) WithComponent(component string) *AppError {
	e.Component = component
	return e
}

// WithDetail adds a detail field
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, message, http.StatusBadRequest)
}

// NewBackendError creates an error describing a failed backend interaction
func NewBackendError(message string) *AppError {
	return NewAppError(ErrorTypeBackend, message, http.StatusBadGateway)
}

// NewAuthenticationError creates an authentication error
func NewAuthenticationError(message string) *AppError {
	return NewAppError(ErrorTypeAuthentication, message, http.StatusUnauthorized)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound).
		WithCause(ErrNotFound)
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return NewAppError(ErrorTypeConflict, message, http.StatusConflict)
}

// NewInternalError creates an internal server error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, message, http.StatusInternalServerError)
}

// NewBatchSizeExceededError is raised before any backend call when a caller
// asks for a batch larger than MaxBatchSize.
func NewBatchSizeExceededError(requested int) *AppError {
	return NewValidationError(ErrBatchSizeExceeded.Error()).
		WithCode(CodeBatchSizeExceeded).
		WithDetail("requested", requested).
		WithDetail("max", MaxBatchSize).
		WithCause(ErrBatchSizeExceeded)
}

// NewBatchCommittedError reports a second commit of a single-use batch.
func NewBatchCommittedError() *AppError {
	return NewConflictError(ErrBatchCommitted.Error()).
		WithCode(CodeBatchAlreadyCommitted).
		WithCause(ErrBatchCommitted)
}

// NewUnsupportedError reports an operation a backend cannot perform.
func NewUnsupportedError(operation string) *AppError {
	return NewAppError(ErrorTypeUnsupported, fmt.Sprintf("%s is not supported", operation), http.StatusNotImplemented).
		WithCode(CodeUnsupported).
		WithCause(ErrUnsupported)
}

// NewTimeoutError reports a one-shot operation that did not settle in time.
func NewTimeoutError(message string) *AppError {
	return NewAppError(ErrorTypeTimeout, message, http.StatusGatewayTimeout).
		WithCode(CodeTimeout).
		WithCause(ErrTimeout)
}

// FromHTTPStatus rebuilds an AppError from a gateway response so that error
// classification survives a remote round trip.
func FromHTTPStatus(status int, errorType ErrorType, message, code string) *AppError {
	if errorType == "" {
		switch status {
		case http.StatusNotFound:
			errorType = ErrorTypeNotFound
		case http.StatusBadRequest:
			errorType = ErrorTypeValidation
		case http.StatusUnauthorized:
			errorType = ErrorTypeAuthentication
		case http.StatusConflict:
			errorType = ErrorTypeConflict
		case http.StatusNotImplemented:
			errorType = ErrorTypeUnsupported
		default:
			errorType = ErrorTypeBackend
		}
	}
	appErr := NewAppError(errorType, message, status).WithCode(code)
	switch {
	case errorType == ErrorTypeNotFound:
		appErr.Cause = ErrNotFound
	case code == CodeBatchSizeExceeded:
		appErr.Cause = ErrBatchSizeExceeded
	case code == CodeBatchAlreadyCommitted:
		appErr.Cause = ErrBatchCommitted
	case code == CodeUnsupported:
		appErr.Cause = ErrUnsupported
	case code == CodeTimeout:
		appErr.Cause = ErrTimeout
	}
	return appErr
}

// WrapError wraps an error with context
func WrapError(err error, message string) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError(message).WithCause(err)
}

// HTTPStatus returns the HTTP status associated with err.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.HTTPCode != 0 {
		return appErr.HTTPCode
	}
	return http.StatusInternalServerError
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Type == ErrorTypeNotFound {
		return true
	}
	return errors.Is(err, ErrNotFound)
}

// IsBatchSizeExceeded checks if an error was raised by the batch size precondition
func IsBatchSizeExceeded(err error) bool {
	return errors.Is(err, ErrBatchSizeExceeded)
}

// IsTimeout checks if an error was produced by a Timeout combinator
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsUnsupported checks if a backend rejected an operation it cannot perform
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == ErrorTypeValidation
	}
	return false
}

// IsAuthentication checks if an error is an authentication error
func IsAuthentication(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == ErrorTypeAuthentication
	}
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrInvalidToken)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == ErrorTypeConflict
	}
	return false
}
