package clustersync

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
)

// errLockWaitTimeout is the sentinel pollForLock returns when wait elapses
// before tryAcquire reports success. Callers translate it into a
// TransientError carrying an operation-specific message.
var errLockWaitTimeout = errors.New("lock wait timeout")

const defaultLockPollInterval = 100 * time.Millisecond

// pollForLock repeatedly calls tryAcquire until it reports success, ctx is
// canceled, or wait elapses. Polling (rather than a single blocking call)
// lets both the in-memory and Postgres-backed stores share one bounded-wait
// implementation, and lets tests drive the wait deterministically with a
// clockwork.FakeClock instead of sleeping in wall-clock time.
func pollForLock(ctx context.Context, clock clockwork.Clock, wait time.Duration, tryAcquire func() (bool, error)) error {
	deadline := clock.Now().Add(wait)
	for {
		ok, err := tryAcquire()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !clock.Now().Before(deadline) {
			return errLockWaitTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(defaultLockPollInterval):
		}
	}
}
