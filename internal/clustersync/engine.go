package clustersync

import (
	"context"
	"log/slog"
	"sync"
)

// Engine is the facade of spec §4.1/§4.7: it exposes the four lifecycle
// entry points and is the sole owner of the state that must survive between
// BeforeWrite and AfterWrite — the held write-lock handle, the in-flight
// write version, and the owner token — keyed per repository so one process
// can drive several repositories concurrently.
type Engine struct {
	metadata MetadataResolver
	identity DeviceIdentity
	bindings BindingResolver
	store    VersionStore
	read     *ReadSynchronizer
	write    *WriteSynchronizer
	log      *slog.Logger

	mu      sync.Mutex
	pending map[RepositoryID]*WriteHandle
}

func NewEngine(metadata MetadataResolver, identity DeviceIdentity, bindings BindingResolver, store VersionStore, read *ReadSynchronizer, write *WriteSynchronizer, log *slog.Logger) *Engine {
	return &Engine{
		metadata: metadata,
		identity: identity,
		bindings: bindings,
		store:    store,
		read:     read,
		write:    write,
		log:      log,
		pending:  map[RepositoryID]*WriteHandle{},
	}
}

// enabled resolves the repository and this device's identity and applies
// spec §4.7's enablement predicate: a cluster service is associated, the
// repository is git-family, it is hosted (not observed), and this process
// knows its own device identity.
func (e *Engine) enabled(ctx context.Context, repoID RepositoryID) (Repository, DeviceID, bool, error) {
	repo, err := e.metadata.Repository(ctx, repoID)
	if err != nil {
		return Repository{}, "", false, err
	}
	if !repo.hasClusterService() || repo.Family != FamilyGit || !repo.Hosted {
		return repo, "", false, nil
	}
	device, ok, err := e.identity.ThisDeviceID(ctx)
	if err != nil {
		return repo, "", false, err
	}
	if !ok {
		return repo, "", false, nil
	}
	return repo, device, true, nil
}

// AfterCreation initializes a version=0 row for every active binding so
// later reads can unambiguously pick a leader (spec §4.1).
func (e *Engine) AfterCreation(ctx context.Context, repoID RepositoryID) error {
	repo, _, on, err := e.enabled(ctx, repoID)
	if err != nil {
		return err
	}
	if !on {
		e.log.Debug("synchronization disabled, AfterCreation is a no-op", "repo", repoID)
		return nil
	}
	bindings, err := e.bindings.ActiveBindings(ctx, repo)
	if err != nil {
		return err
	}
	for _, b := range bindings {
		if err := e.store.UpdateVersion(ctx, repo.ID, b.DeviceID, 0); err != nil {
			return err
		}
	}
	return nil
}

// BeforeRead returns the version this device's working copy now represents,
// pulling from a leader first if this device is behind (spec §4.4).
func (e *Engine) BeforeRead(ctx context.Context, repoID RepositoryID) (int64, error) {
	repo, device, on, err := e.enabled(ctx, repoID)
	if err != nil {
		return 0, err
	}
	if !on {
		e.log.Debug("synchronization disabled, BeforeRead is a no-op", "repo", repoID)
		return 0, nil
	}
	return e.read.Read(ctx, repo, device)
}

// BeforeWrite blocks until the cluster write lock is held, the no-prior-
// interrupted-write invariant is confirmed, this device has caught up to
// the cluster maximum version, and a durable write marker is persisted
// (spec §4.5 steps 1-6).
func (e *Engine) BeforeWrite(ctx context.Context, repoID RepositoryID, props WriteProperties) error {
	repo, device, on, err := e.enabled(ctx, repoID)
	if err != nil {
		return err
	}
	if !on {
		e.log.Debug("synchronization disabled, BeforeWrite is a no-op", "repo", repoID)
		return nil
	}

	e.mu.Lock()
	_, alreadyHeld := e.pending[repoID]
	e.mu.Unlock()
	if alreadyHeld {
		return newProgrammerError("BeforeWrite", "a write is already in flight for this repository on this process")
	}

	props.OriginatingDeviceID = device
	handle, err := e.write.BeforeWrite(ctx, repo, device, props)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.pending[repoID] = handle
	e.mu.Unlock()
	return nil
}

// AfterWrite clears the durable write marker with the new post-write
// version and releases the cluster write lock, retrying across transient
// database disconnects (spec §4.5 steps 7-11).
func (e *Engine) AfterWrite(ctx context.Context, repoID RepositoryID) error {
	_, _, on, err := e.enabled(ctx, repoID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	handle, ok := e.pending[repoID]
	e.mu.Unlock()

	if !on {
		if ok {
			// Synchronization was disabled mid-write (configuration
			// changed under us); still honor the held lock rather than
			// leaking it.
			e.log.Warn("synchronization disabled with a write in flight, finishing it anyway", "repo", repoID)
		} else {
			e.log.Debug("synchronization disabled, AfterWrite is a no-op", "repo", repoID)
			return nil
		}
	}

	if !ok {
		return newProgrammerError("AfterWrite", "called without a preceding successful BeforeWrite on this repository")
	}

	err = e.write.AfterWrite(ctx, handle)
	if err == nil || IsFrozen(err) || IsProgrammer(err) {
		e.mu.Lock()
		delete(e.pending, repoID)
		e.mu.Unlock()
	}
	return err
}
