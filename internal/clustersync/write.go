package clustersync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"
)

// DefaultAfterWriteBudget bounds how long AfterWrite keeps retrying a
// database reconnect before giving up and freezing the repository (spec
// §4.5 step 9, §9's "retry for up to five minutes" design note).
const DefaultAfterWriteBudget = 300 * time.Second

// afterWriteRetryInterval is the fixed spacing between reconnect attempts.
const afterWriteRetryInterval = 1 * time.Second

// WriteHandle is the state a caller must hold between BeforeWrite and
// AfterWrite: the pinned write lock, the minted owner token, and the base
// version the write started from. It is opaque to callers outside this
// package; the engine facade is the only intended holder.
type WriteHandle struct {
	repo        Repository
	device      DeviceID
	lock        WriteLock
	owner       string
	baseVersion int64
}

// WriteSynchronizer implements spec §4.5: the distributed write lock,
// leader-election-by-version catch-up before a write is allowed to start,
// and the durable-marker reconnect loop that lets AfterWrite survive a
// transient database disconnect without losing the fact that a write is
// in flight.
type WriteSynchronizer struct {
	store  VersionStore
	read   *ReadSynchronizer
	events PushEventSource
	log    *slog.Logger
	clock  clockwork.Clock

	lockWait      time.Duration
	afterWriteMax time.Duration
}

func NewWriteSynchronizer(store VersionStore, read *ReadSynchronizer, events PushEventSource, log *slog.Logger, clock clockwork.Clock, lockWait, afterWriteMax time.Duration) *WriteSynchronizer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if lockWait <= 0 {
		lockWait = DefaultLockWait
	}
	if afterWriteMax <= 0 {
		afterWriteMax = DefaultAfterWriteBudget
	}
	return &WriteSynchronizer{store: store, read: read, events: events, log: log, clock: clock, lockWait: lockWait, afterWriteMax: afterWriteMax}
}

// BeforeWrite runs spec §4.5 steps 1-6: acquire the cluster-wide write lock,
// refuse if any device's row is already mid-write (a prior writer never
// reached AfterWrite), catch this device up to the cluster's leader version
// via the read protocol, mint an owner token, and durably mark this device
// as mid-write on the same connection that holds the lock.
func (w *WriteSynchronizer) BeforeWrite(ctx context.Context, repo Repository, device DeviceID, props WriteProperties) (*WriteHandle, error) {
	start := w.clock.Now()
	lock, err := w.store.AcquireWriteLock(ctx, repo.ID, w.lockWait)
	if err != nil {
		Errors.WithLabelValues(ErrorTypeLockTimeout).Inc()
		return nil, err
	}
	waited := w.clock.Since(start)
	LockWaitSeconds.WithLabelValues(LockKindWrite).Observe(waited.Seconds())
	w.log.Info("acquired write lock", "repo", repo.ID, "device", device, "waited", waited)
	released := false
	defer func() {
		if !released {
			_ = lock.Release(ctx)
		}
	}()

	versions, err := w.store.LoadVersions(ctx, repo.ID)
	if err != nil {
		return nil, err
	}
	for d, v := range versions {
		if v.IsWriting {
			FrozenRepositories.Inc()
			Errors.WithLabelValues(ErrorTypeFreezeDetected).Inc()
			return nil, newFrozenError("BeforeWrite", fmt.Sprintf(
				"repository %s has an unresolved interrupted write from device %s; an operator must clear it before writes can resume",
				repo.DisplayName, d), nil)
		}
	}

	baseVersion, err := w.read.Read(ctx, repo, device)
	if err != nil {
		return nil, err
	}

	owner := newOwnerToken()
	if err := lock.WillWrite(ctx, repo.ID, device, props, owner); err != nil {
		return nil, err
	}

	w.log.Info("write started", "repo", repo.ID, "device", device, "owner", owner, "base_version", baseVersion)
	released = true
	return &WriteHandle{repo: repo, device: device, lock: lock, owner: owner, baseVersion: baseVersion}, nil
}

// AfterWrite runs spec §4.5 steps 7-11: compute the new version from the
// push-event source (falling back to the base version the write started
// from if no event was recorded), then retry clearing the durable marker
// across however many reconnects it takes, up to afterWriteMax wall-clock
// time, before giving up and leaving the repository frozen for an operator.
func (w *WriteSynchronizer) AfterWrite(ctx context.Context, handle *WriteHandle) error {
	if handle == nil {
		return newProgrammerError("AfterWrite", "called without a write lock held by BeforeWrite")
	}

	newVersion := handle.baseVersion
	if id, ok, err := fetchLatestEventID(ctx, w.events, handle.repo.ID); err == nil && ok {
		newVersion = id
	} else if err != nil {
		w.log.Warn("failed to read latest push event, falling back to base version", "repo", handle.repo.ID, "device", handle.device, "error", err)
	}

	deadline := w.clock.Now().Add(w.afterWriteMax)
	attempt := 0
	warnedOnce := false
	for {
		attempt++
		cleared, err := w.store.DidWrite(ctx, handle.repo.ID, handle.device, handle.baseVersion, newVersion, handle.owner)
		if err == nil {
			if !cleared {
				return newProgrammerError("AfterWrite", "write marker owner mismatch; another writer cleared or reclaimed this row")
			}
			_ = handle.lock.Release(ctx)
			w.log.Info("write completed", "repo", handle.repo.ID, "device", handle.device, "owner", handle.owner, "version", newVersion, "attempts", attempt)
			return nil
		}

		if !IsTransient(err) {
			return err
		}

		if !w.clock.Now().Before(deadline) {
			Errors.WithLabelValues(ErrorTypeDurableReleaseLost).Inc()
			FrozenRepositories.Inc()
			return newFrozenError("AfterWrite", fmt.Sprintf(
				"could not confirm write completion for repository %s after %s of reconnect attempts; the durable marker is left set for an operator to resolve",
				handle.repo.DisplayName, w.afterWriteMax), err)
		}

		if !warnedOnce {
			w.log.Error("lost database connectivity while finalizing a write, retrying", "repo", handle.repo.ID, "device", handle.device, "owner", handle.owner, "error", err)
			warnedOnce = true
		} else {
			w.log.Warn("still retrying write finalization", "repo", handle.repo.ID, "device", handle.device, "attempt", attempt, "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.clock.After(afterWriteRetryInterval):
		}
	}
}

// fetchLatestEventID wraps a PushEventSource lookup with a few quick
// backoff.Retry attempts, so a single blip in the event source doesn't fall
// all the way back to the write's base version.
func fetchLatestEventID(ctx context.Context, events PushEventSource, repo RepositoryID) (int64, bool, error) {
	type result struct {
		id int64
		ok bool
	}
	r, err := backoff.Retry(ctx, func() (result, error) {
		id, ok, err := events.LatestEventID(ctx, repo)
		if err != nil {
			return result{}, err
		}
		return result{id: id, ok: ok}, nil
	}, backoff.WithBackOff(backoff.NewConstantBackOff(200*time.Millisecond)), backoff.WithMaxTries(3))
	if err != nil {
		return 0, false, err
	}
	return r.id, r.ok, nil
}
