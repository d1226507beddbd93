package apierrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "code only",
			err:  &Error{Code: CodeTimeout},
			want: "TIMEOUT",
		},
		{
			name: "code and message",
			err:  New(CodeStateMismatch, "unknown state"),
			want: "STATE_MISMATCH: unknown state",
		},
		{
			name: "code, message, and cause",
			err:  Wrap(CodeHTTPError, "request failed", errors.New("connection refused")),
			want: "HTTP_ERROR: request failed: connection refused",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestIsMatchesByCode(t *testing.T) {
	require := require.New(t)

	err := Newf(CodeStateMismatch, "state %q not found", "abc")
	require.ErrorIs(err, ErrStateMismatch)
	require.False(errors.Is(err, ErrStateAlreadyExists))
}

func TestUnwrapChain(t *testing.T) {
	require := require.New(t)

	cause := errors.New("boom")
	err := Wrap(CodeTokenRefreshError, "refresh failed", cause)
	require.ErrorIs(err, cause)

	// A wrapped domain error still matches by code through the chain.
	outer := fmt.Errorf("outer: %w", err)
	require.True(IsCode(outer, CodeTokenRefreshError))
	require.Equal(CodeTokenRefreshError, CodeOf(outer))
}

func TestCodeOfForeignError(t *testing.T) {
	require.Equal(t, "", CodeOf(errors.New("plain")))
}
