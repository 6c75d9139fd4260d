package errorsx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTypeOfDefaultsToFatalForPlainErrors(t *testing.T) {
	require.Equal(t, Fatal, TypeOf(errors.New("boom")))
}

func TestTypeOfRoundTripsThroughNew(t *testing.T) {
	err := New(Transient, "scene fetch timed out")
	require.Equal(t, Transient, TypeOf(err))
	require.True(t, err.Retryable())
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(DataError, cause, "read band red")
	require.ErrorIs(t, err, cause)
	require.False(t, err.Retryable())
}

func TestOnlyTransientIsRetryable(t *testing.T) {
	for _, tc := range []struct {
		t    Type
		want bool
	}{
		{Validation, false},
		{NotFound, false},
		{Conflict, false},
		{Transient, true},
		{DataError, false},
		{Fatal, false},
	} {
		err := New(tc.t, "x")
		require.Equal(t, tc.want, err.Retryable(), tc.t.String())
	}
}

func TestWithContextAttachesKeyValue(t *testing.T) {
	err := New(Validation, "bad tile").WithContext("tile", "003003")
	require.Equal(t, "003003", err.Context["tile"])
}

func TestWithContextDoesNotMutateSharedSentinel(t *testing.T) {
	derived := ErrCubeNotFound.WithContext("reason", "identity cube")
	require.Equal(t, "identity cube", derived.Context["reason"])
	require.Nil(t, ErrCubeNotFound.Context, "deriving an error from a sentinel must not leak context onto it")

	other := ErrCubeNotFound.WithContext("reason", "different caller")
	require.Equal(t, "different caller", other.Context["reason"])
	require.Equal(t, "identity cube", derived.Context["reason"], "two derived errors must not share a Context map")
}
