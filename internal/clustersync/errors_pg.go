package clustersync

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// isConnectivityError reports whether err signals lost database
// connectivity rather than a query-level failure, per spec §4.5/§9's
// distinction between "any error signaling lost DB connectivity" (drives
// the AfterWrite retry loop) and "any other error" (propagates immediately).
func isConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	if errors.Is(err, pgx.ErrTxClosed) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// SQLSTATE class 08 is "connection exception"; 57P01-57P03 are the
		// server telling us it is shutting down or not yet accepting
		// connections. Both mean the session, not the query, is the problem.
		if strings.HasPrefix(pgErr.Code, "08") {
			return true
		}
		switch pgErr.Code {
		case "57P01", "57P02", "57P03":
			return true
		}
	}
	return false
}

// classifyPgError wraps a database error as a TransientError when it looks
// like lost connectivity, and as a plain wrapped error otherwise.
func classifyPgError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isConnectivityError(err) {
		return newTransientError(op, "database connectivity error", err)
	}
	return fmt.Errorf("clustersync: %s: %w", op, err)
}
