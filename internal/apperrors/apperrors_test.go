package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{New(CodeInvalidInput), http.StatusBadRequest},
		{ErrInvalidLogin, http.StatusUnauthorized},
		{ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("get issue: %w", ErrNotFound), http.StatusNotFound},
		{ErrDuplicateUsername, http.StatusConflict},
		{ErrTooManyRequests, http.StatusTooManyRequests},
		{Wrap(CodeUpstream, errors.New("dial tcp: refused")), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
		{&AppError{Code: "UNKNOWN"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Status(tt.err), "%v", tt.err)
	}
}

func TestIs_MatchesByCode(t *testing.T) {
	err := fmt.Errorf("lookup: %w", Newf(CodeNotFound, "issue %s not found", "abc"))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrInvalidLogin))
}

func TestMessage_HidesInternalDetails(t *testing.T) {
	assert.Equal(t, "Invalid login attempt.", Message(ErrInvalidLogin))
	assert.Equal(t, "internal server issue, please try again", Message(errors.New("mongo: secret host")))
}

func TestWrap_Unwraps(t *testing.T) {
	cause := errors.New("timeout")
	err := Wrap(CodeUpstream, cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "timeout")
}
