package clustersync

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestIsConnectivityError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"net error", &net.DNSError{IsTimeout: true}, true},
		{"closed transaction", pgx.ErrTxClosed, true},
		{"connection exception class", &pgconn.PgError{Code: "08006"}, true},
		{"cannot connect now", &pgconn.PgError{Code: "57P03"}, true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, isConnectivityError(tc.err))
		})
	}
}

func TestClassifyPgError(t *testing.T) {
	t.Parallel()

	require.NoError(t, classifyPgError("Op", nil))

	connErr := classifyPgError("Op", &pgconn.PgError{Code: "08006", Message: "connection failure"})
	require.True(t, IsTransient(connErr))

	otherErr := classifyPgError("Op", &pgconn.PgError{Code: "23505", Message: "duplicate key"})
	require.False(t, IsTransient(otherErr))
	require.Contains(t, otherErr.Error(), fmt.Sprintf("clustersync: %s", "Op"))
}
