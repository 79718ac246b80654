package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    *ServiceError
		status int
		code   ErrorCode
	}{
		{"bad request", BadRequest("x"), http.StatusBadRequest, CodeValidation},
		{"unauthorized", Unauthorized(""), http.StatusUnauthorized, CodeUnauthorized},
		{"invalid token", InvalidToken(nil), http.StatusUnauthorized, CodeInvalidToken},
		{"forbidden", Forbidden(""), http.StatusForbidden, CodeForbidden},
		{"not found", NotFound("account", "a1"), http.StatusNotFound, CodeNotFound},
		{"conflict", Conflict("busy"), http.StatusConflict, CodeConflict},
		{"rate limit", RateLimitExceeded(5, "1s"), http.StatusTooManyRequests, CodeRateLimited},
		{"internal", Internal("boom", nil), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
			assert.Equal(t, tt.code, tt.err.Code)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

func TestWithDetailsCopies(t *testing.T) {
	base := BadRequest("amount")
	withField := base.WithDetails("field", "amount")

	assert.Nil(t, base.Details)
	assert.Equal(t, "amount", withField.Details["field"])
}

func TestGetServiceErrorUnwraps(t *testing.T) {
	cause := stderrors.New("disk full")
	wrapped := fmt.Errorf("save: %w", Internal("store failed", cause))

	se := GetServiceError(wrapped)
	require.NotNil(t, se)
	assert.Equal(t, CodeInternal, se.Code)
	assert.ErrorIs(t, wrapped, cause)
	assert.True(t, Is(wrapped, CodeInternal))
	assert.False(t, Is(cause, CodeInternal))
	assert.Nil(t, GetServiceError(cause))
}
