package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, KindBadRequest.HTTPStatus())
	assert.Equal(t, http.StatusUnauthorized, KindUnauthorized.HTTPStatus())
	assert.Equal(t, http.StatusNotFound, KindNotFound.HTTPStatus())
	assert.Equal(t, http.StatusConflict, KindConflict.HTTPStatus())
	assert.Equal(t, http.StatusTooManyRequests, KindTooManyRequests.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, KindInternal.HTTPStatus())
}

func TestWrapPassesAppErrorThrough(t *testing.T) {
	original := Conflict(CodeEmailAlreadyExists, "Email already registered")
	wrapped := fmt.Errorf("register: %w", original)

	got := Wrap(wrapped, "Registration failed")
	ae := As(got)
	require.NotNil(t, ae)
	assert.Equal(t, KindConflict, ae.Kind)
	assert.Equal(t, CodeEmailAlreadyExists, ae.Code)
}

func TestWrapHidesUnknownErrors(t *testing.T) {
	cause := errors.New("pq: connection refused")

	got := Wrap(cause, "Login failed")
	ae := As(got)
	require.NotNil(t, ae)
	assert.Equal(t, KindInternal, ae.Kind)
	assert.Equal(t, "Login failed", ae.Message)
	assert.ErrorIs(t, got, cause)
	assert.NoError(t, Wrap(nil, "unused"))
}

func TestRateLimited(t *testing.T) {
	err := RateLimited(42)
	assert.Equal(t, 42, err.RetryAfter)
	assert.True(t, IsKind(err, KindTooManyRequests))
	assert.True(t, HasCode(err, CodeRateLimitExceeded))
}

func TestWithDetailsCopies(t *testing.T) {
	base := BadRequest(CodeWeakPassword, "Password is too weak")
	detailed := base.WithDetails("too short")

	assert.Empty(t, base.Details)
	assert.Equal(t, []string{"too short"}, detailed.Details)
}
