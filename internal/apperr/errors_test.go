package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestFailedError_Is(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &RequestFailedError{Op: "create blob", Status: http.StatusUnprocessableEntity})

	assert.True(t, errors.Is(err, ErrRequestFailed))
	assert.False(t, errors.Is(err, ErrInvalidResponse))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusOf(err))
	assert.Contains(t, err.Error(), "422")
}

func TestRequestFailedError_Retryable(t *testing.T) {
	cases := []struct {
		status int
		want   bool
	}{
		{0, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusNotFound, false},
		{http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		err := &RequestFailedError{Op: "op", Status: tc.status}
		assert.Equal(t, tc.want, IsRetryable(err), "status %d", tc.status)
	}
	assert.False(t, IsRetryable(ErrMalformedDocument))
}

func TestRequestFailedError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := &RequestFailedError{Op: "list", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 0, StatusOf(err))
}

func TestUserError(t *testing.T) {
	err := &UserError{Message: "Failed to publish Hello", Err: ErrBusy}
	assert.Equal(t, "Failed to publish Hello: another sync or publish is in progress", err.Error())
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, "plain", (&UserError{Message: "plain"}).Error())
}
