package clustersync

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrors_KindPredicates(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	cases := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"transient", newTransientError("Op", "msg", cause), IsTransient},
		{"frozen", newFrozenError("Op", "msg", cause), IsFrozen},
		{"config", newConfigError("Op", "msg", cause), IsConfig},
		{"leader_lost", newLeaderLostError("Op", "msg", cause), IsLeaderLost},
		{"not_initialized", newNotInitializedError("Op", "msg", cause), IsNotInitialized},
		{"unsupported", newUnsupportedError("Op", "msg", cause), IsUnsupported},
		{"programmer", newProgrammerError("Op", "msg"), IsProgrammer},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.True(t, tc.check(tc.err))
			for _, other := range cases {
				if other.name == tc.name {
					continue
				}
				require.False(t, other.check(tc.err), "%s predicate should not match a %s error", other.name, tc.name)
			}
		})
	}
}

func TestErrors_UnwrapAndAs(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := newTransientError("AcquireLock", "lock wait timeout", cause)

	wrapped := fmt.Errorf("context: %w", err)
	require.True(t, IsTransient(wrapped))
	require.ErrorIs(t, wrapped, cause)

	var ce *Error
	require.True(t, errors.As(wrapped, &ce))
	require.Equal(t, "AcquireLock", ce.Op)
}

func TestErrors_PredicateFalseOnPlainError(t *testing.T) {
	t.Parallel()

	plain := errors.New("not ours")
	require.False(t, IsTransient(plain))
	require.False(t, IsFrozen(plain))
	require.False(t, IsConfig(plain))
	require.False(t, IsLeaderLost(plain))
	require.False(t, IsNotInitialized(plain))
	require.False(t, IsUnsupported(plain))
	require.False(t, IsProgrammer(plain))
}
