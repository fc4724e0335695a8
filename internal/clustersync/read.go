package clustersync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultLockWait is the design-default bounded wait for both the read and
// write advisory locks (spec §4.4 step 1, §4.5 step 2).
const DefaultLockWait = 120 * time.Second

// ReadSynchronizer implements spec §4.4: on return, this device's on-disk
// working copy is at a version at least as fresh as any active device's
// recorded version, and its row reflects that.
type ReadSynchronizer struct {
	store    VersionStore
	bindings BindingResolver
	fetch    *FetchDriver
	log      *slog.Logger
	clock    clockwork.Clock
	lockWait time.Duration
}

func NewReadSynchronizer(store VersionStore, bindings BindingResolver, fetch *FetchDriver, log *slog.Logger, clock clockwork.Clock, lockWait time.Duration) *ReadSynchronizer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if lockWait <= 0 {
		lockWait = DefaultLockWait
	}
	return &ReadSynchronizer{store: store, bindings: bindings, fetch: fetch, log: log, clock: clock, lockWait: lockWait}
}

// Read runs the protocol of spec §4.4 and returns the version this device's
// working copy now represents.
func (r *ReadSynchronizer) Read(ctx context.Context, repo Repository, device DeviceID) (int64, error) {
	start := r.clock.Now()
	lock, err := r.store.AcquireReadLock(ctx, repo.ID, device, r.lockWait)
	if err != nil {
		Errors.WithLabelValues(ErrorTypeLockTimeout).Inc()
		return 0, err
	}
	waited := r.clock.Since(start)
	LockWaitSeconds.WithLabelValues(LockKindRead).Observe(waited.Seconds())
	r.log.Info("acquired read lock", "repo", repo.ID, "device", device, "waited", waited)
	defer func() { _ = lock.Release(ctx) }()

	versions, err := r.store.LoadVersions(ctx, repo.ID)
	if err != nil {
		return 0, err
	}

	if len(versions) == 0 {
		return r.bootstrap(ctx, repo, device)
	}

	selfVersion := int64(-1)
	if row, ok := versions[device]; ok {
		selfVersion = row.Version
	}

	maxVersion := int64(-1)
	for _, v := range versions {
		if v.Version > maxVersion {
			maxVersion = v.Version
		}
	}

	if maxVersion <= selfVersion {
		return maxVersion, nil
	}

	var leaderDevices []DeviceID
	for d, v := range versions {
		if v.Version == maxVersion {
			leaderDevices = append(leaderDevices, d)
		}
	}

	bindings, err := r.bindings.ActiveBindings(ctx, repo)
	if err != nil {
		return 0, err
	}
	leaderBindings := make([]Binding, 0, len(leaderDevices))
	for _, b := range bindings {
		for _, ld := range leaderDevices {
			if b.DeviceID == ld {
				leaderBindings = append(leaderBindings, b)
				break
			}
		}
	}

	if err := r.fetch.FetchFrom(ctx, repo, leaderBindings); err != nil {
		Errors.WithLabelValues(ErrorTypeLeaderLost).Inc()
		return 0, err
	}

	if err := r.store.UpdateVersion(ctx, repo.ID, device, maxVersion); err != nil {
		// Safe to leave stale: version info is idempotent and the next
		// read will retry this update.
		r.log.Warn("failed to persist version after pull, next read will retry", "repo", repo.ID, "device", device, "error", err)
	}

	return maxVersion, nil
}

// bootstrap handles spec §4.4 case B: no version rows exist yet.
func (r *ReadSynchronizer) bootstrap(ctx context.Context, repo Repository, device DeviceID) (int64, error) {
	bindings, err := r.bindings.ActiveBindings(ctx, repo)
	if err != nil {
		return 0, err
	}
	if len(bindings) > 1 {
		Errors.WithLabelValues(ErrorTypeAmbiguousAuthority).Inc()
		return 0, newConfigError("BeforeRead", fmt.Sprintf(
			"more than one device is bound to repository %s; remove all but one device from service to designate an authority",
			repo.DisplayName), nil)
	}
	if len(bindings) == 0 || bindings[0].DeviceID != device {
		Errors.WithLabelValues(ErrorTypeNotBound).Inc()
		return 0, newConfigError("BeforeRead", fmt.Sprintf("this device is not bound to repository %s", repo.DisplayName), nil)
	}
	if err := r.store.UpdateVersion(ctx, repo.ID, device, 0); err != nil {
		return 0, err
	}
	return 0, nil
}
