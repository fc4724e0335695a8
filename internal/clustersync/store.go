package clustersync

import (
	"context"
	"time"
)

// Lock is a held named advisory lock. Release is best-effort idempotent:
// callers that have already lost the underlying connection (e.g. after a
// database restart) may call Release and tolerate an error.
type Lock interface {
	Release(ctx context.Context) error
}

// WriteLock is the cluster-wide write lock of spec §3/§4.5. It is pinned to
// a single database connection so WillWrite's row upsert and the lock
// acquisition live together, per spec §4.2.
type WriteLock interface {
	Lock

	// WillWrite durably marks (repo, device) as mid-write on the same
	// connection that holds the lock. See spec §4.2/§4.5 step 6.
	WillWrite(ctx context.Context, repo RepositoryID, device DeviceID, props WriteProperties, owner string) error
}

// VersionStore persists and queries per-(repository, device) version rows
// and the named advisory locks that serialize reads and writes (spec §4.2).
type VersionStore interface {
	// LoadVersions is a read-only, non-locking snapshot of every row
	// recorded for repo.
	LoadVersions(ctx context.Context, repo RepositoryID) (map[DeviceID]WorkingCopyVersion, error)

	// UpdateVersion upserts version and clears any prior write marker. Used
	// only when the caller is not holding a write (read-path catch-up, or
	// bootstrap).
	UpdateVersion(ctx context.Context, repo RepositoryID, device DeviceID, version int64) error

	// DidWrite atomically clears the write marker and advances the version
	// if and only if the row's current WriteOwner matches owner. It reports
	// whether the clear happened.
	DidWrite(ctx context.Context, repo RepositoryID, device DeviceID, oldVersion, newVersion int64, owner string) (bool, error)

	// AcquireReadLock waits up to wait for the per-(repository, device)
	// read lock. A TransientError is returned on timeout.
	AcquireReadLock(ctx context.Context, repo RepositoryID, device DeviceID, wait time.Duration) (Lock, error)

	// AcquireWriteLock waits up to wait for the cluster-wide write lock,
	// pinned to a dedicated connection. A TransientError is returned on
	// timeout.
	AcquireWriteLock(ctx context.Context, repo RepositoryID, wait time.Duration) (WriteLock, error)

	// ForceClearWriteMarker is the operator escape hatch of spec §8's S4:
	// it clears isWriting on (repo, device) unconditionally, regardless of
	// writeOwner, so a repository frozen by a crashed writer can resume.
	ForceClearWriteMarker(ctx context.Context, repo RepositoryID, device DeviceID) error
}
