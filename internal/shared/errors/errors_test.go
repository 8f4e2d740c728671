package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Behavior(t *testing.T) {
	err := NewValidationError("invalid input").WithCode("VAL001").WithDetail("field", "name").WithComponent("test-component")
	assert.Equal(t, ErrorTypeValidation, err.Type)
	assert.Equal(t, "invalid input", err.Message)
	assert.Equal(t, "VAL001", err.Code)
	assert.Equal(t, "test-component", err.Component)
	assert.Equal(t, "name", err.Details["field"])
	assert.Equal(t, "invalid input", err.Error())
}

func TestAppError_WithCause_Unwrap(t *testing.T) {
	cause := errors.New("socket closed")
	err := NewBackendError("read failed").WithCause(cause)
	assert.Equal(t, cause, err.Unwrap())
	assert.Equal(t, "read failed: socket closed", err.Error())
}

func TestBatchSizeExceeded(t *testing.T) {
	err := NewBatchSizeExceededError(501)
	assert.True(t, IsBatchSizeExceeded(err))
	assert.True(t, IsValidation(err))
	assert.Equal(t, CodeBatchSizeExceeded, err.Code)
	assert.Equal(t, 501, err.Details["requested"])
	assert.Equal(t, "batch size should be less than 500", err.Error())

	wrapped := fmt.Errorf("purge: %w", err)
	assert.True(t, IsBatchSizeExceeded(wrapped))
}

func TestIsNotFound_IsValidation_IsAuthentication(t *testing.T) {
	nf := NewNotFoundError("document users/alice")
	assert.True(t, IsNotFound(nf))
	assert.True(t, errors.Is(nf, ErrNotFound))
	assert.False(t, IsValidation(nf))
	assert.False(t, IsAuthentication(nf))

	val := NewValidationError("bad")
	assert.True(t, IsValidation(val))
	auth := NewAuthenticationError("bad")
	assert.True(t, IsAuthentication(auth))
	assert.True(t, IsAuthentication(ErrInvalidToken))
}

func TestFromHTTPStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		typ    ErrorType
		code   string
		check  func(error) bool
	}{
		{"not found by status", http.StatusNotFound, "", "", IsNotFound},
		{"batch size by code", http.StatusBadRequest, ErrorTypeValidation, CodeBatchSizeExceeded, IsBatchSizeExceeded},
		{"unsupported", http.StatusNotImplemented, "", CodeUnsupported, IsUnsupported},
		{"timeout", http.StatusGatewayTimeout, ErrorTypeTimeout, CodeTimeout, IsTimeout},
		{"conflict", http.StatusConflict, "", CodeBatchAlreadyCommitted, IsConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromHTTPStatus(tt.status, tt.typ, "remote failure", tt.code)
			assert.True(t, tt.check(err))
			assert.Equal(t, tt.status, HTTPStatus(err))
		})
	}
}

func TestHTTPStatus_Default(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("plain")))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NewNotFoundError("doc")))
}

func TestWrapError(t *testing.T) {
	appErr := NewConflictError("busy")
	assert.Same(t, appErr, WrapError(appErr, "ignored"))

	plain := errors.New("boom")
	wrapped := WrapError(plain, "store failure")
	assert.Equal(t, ErrorTypeInternal, wrapped.Type)
	assert.ErrorIs(t, wrapped, plain)
}
