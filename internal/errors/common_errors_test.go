package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError(t *testing.T) {
	t.Run("error string carries type and cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := NewUpstreamError("query keys", cause)

		assert.Equal(t, "[UPSTREAM] query keys: connection refused", err.Error())
		assert.ErrorIs(t, err, cause)
	})

	t.Run("error string without cause", func(t *testing.T) {
		err := NewValidationError("hwid is malformed")
		assert.Equal(t, "[VALIDATION] hwid is malformed", err.Error())
		assert.Nil(t, err.Unwrap())
	})

	t.Run("rate limit carries retry hint", func(t *testing.T) {
		err := NewRateLimitError(42)
		assert.Equal(t, ErrTypeRateLimit, err.Type)
		assert.Equal(t, 42, err.Context["retry_after"])
	})

	t.Run("with context chains", func(t *testing.T) {
		err := NewAppError(ErrTypeStorage, "write", nil).
			WithContext("op", "create_key").
			WithContext("attempt", 1)
		assert.Equal(t, "create_key", err.Context["op"])
		assert.Equal(t, 1, err.Context["attempt"])
	})
}

func TestIsType(t *testing.T) {
	wrapped := fmt.Errorf("issue: %w", NewUpstreamError("create key", nil))

	assert.True(t, IsType(wrapped, ErrTypeUpstream))
	assert.False(t, IsType(wrapped, ErrTypeValidation))
	assert.False(t, IsType(errors.New("plain"), ErrTypeUpstream))
	assert.False(t, IsType(nil, ErrTypeUpstream))

	appErr, ok := AsAppError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "create key", appErr.Message)
}

func TestConstructorsSetTypes(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want ErrorType
	}{
		{"validation", NewValidationError("x"), ErrTypeValidation},
		{"auth", NewAuthError("x"), ErrTypeAuth},
		{"upstream", NewUpstreamError("x", nil), ErrTypeUpstream},
		{"not found", NewNotFoundError("key"), ErrTypeNotFound},
		{"network", NewNetworkError("x", nil), ErrTypeNetwork},
		{"storage", NewStorageError("x", nil), ErrTypeStorage},
		{"config", NewConfigError("x", nil), ErrTypeConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Type)
		})
	}

	assert.Equal(t, "key not found", NewNotFoundError("key").Message)
}
