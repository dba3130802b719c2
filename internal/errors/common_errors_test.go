package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "error with cause",
			err:  NewStorageError("insert license", errors.New("connection refused")),
			want: "[STORAGE] insert license: connection refused",
		},
		{
			name: "error without cause",
			err:  NewAppValidationError("owner_email is required"),
			want: "[VALIDATION] owner_email is required",
		},
		{
			name: "network error",
			err:  NewNetworkError("deliver notice", errors.New("timeout")),
			want: "[NETWORK] deliver notice: timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewStorageError("save record", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestAppError_UnwrapSentinel(t *testing.T) {
	err := NewStorageError("lookup", ErrLicenseNotFound)
	assert.True(t, errors.Is(err, ErrLicenseNotFound))
}

func TestAppError_Types(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		wantType ErrorType
	}{
		{"network", NewNetworkError("x", nil), ErrTypeNetwork},
		{"storage", NewStorageError("x", nil), ErrTypeStorage},
		{"validation", NewAppValidationError("x"), ErrTypeValidation},
		{"not found", NewNotFoundError("license"), ErrTypeNotFound},
		{"permission", NewPermissionError("x"), ErrTypePermission},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.err.Type)
		})
	}
}

func TestAppError_AsTarget(t *testing.T) {
	var appErr *AppError
	wrapped := NewStorageError("query", errors.New("timeout"))

	require.True(t, errors.As(wrapped, &appErr))
	assert.Equal(t, ErrTypeStorage, appErr.Type)
}
