package clustersync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MemoryVersionStore is an in-process VersionStore backed by a mutex-guarded
// map, in the style of the teacher's mutex-guarded FileStorage. It backs the
// unit tests for the read/write synchronizers and the engine facade, and
// doubles as a single-process development backend where a Postgres cluster
// would be overkill.
type MemoryVersionStore struct {
	clock clockwork.Clock

	mu        sync.Mutex
	rows      map[RepositoryID]map[DeviceID]WorkingCopyVersion
	readLocks map[string]bool
	writeLock map[RepositoryID]bool
}

// NewMemoryVersionStore builds an empty store. Pass clockwork.NewRealClock()
// in production and a clockwork.NewFakeClock() in tests that exercise lock
// timeouts.
func NewMemoryVersionStore(clock clockwork.Clock) *MemoryVersionStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryVersionStore{
		clock:     clock,
		rows:      map[RepositoryID]map[DeviceID]WorkingCopyVersion{},
		readLocks: map[string]bool{},
		writeLock: map[RepositoryID]bool{},
	}
}

func readLockKey(repo RepositoryID, device DeviceID) string {
	return fmt.Sprintf("repository-read-%s-%s", repo, device)
}

func (s *MemoryVersionStore) LoadVersions(_ context.Context, repo RepositoryID) (map[DeviceID]WorkingCopyVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[DeviceID]WorkingCopyVersion, len(s.rows[repo]))
	for d, v := range s.rows[repo] {
		out[d] = v
	}
	return out, nil
}

func (s *MemoryVersionStore) UpdateVersion(_ context.Context, repo RepositoryID, device DeviceID, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureRepo(repo)
	s.rows[repo][device] = WorkingCopyVersion{Version: version}
	return nil
}

func (s *MemoryVersionStore) DidWrite(_ context.Context, repo RepositoryID, device DeviceID, _, newVersion int64, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[repo][device]
	if !ok || row.WriteOwner != owner {
		return false, nil
	}
	row.Version = newVersion
	row.IsWriting = false
	row.WriteOwner = ""
	row.WriteProperties = WriteProperties{}
	s.rows[repo][device] = row
	return true, nil
}

func (s *MemoryVersionStore) AcquireReadLock(ctx context.Context, repo RepositoryID, device DeviceID, wait time.Duration) (Lock, error) {
	key := readLockKey(repo, device)
	err := pollForLock(ctx, s.clock, wait, func() (bool, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.readLocks[key] {
			return false, nil
		}
		s.readLocks[key] = true
		return true, nil
	})
	if err == errLockWaitTimeout {
		return nil, newTransientError("AcquireReadLock", "lock wait timeout", nil)
	}
	if err != nil {
		return nil, err
	}
	return &memLock{release: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.readLocks, key)
	}}, nil
}

func (s *MemoryVersionStore) AcquireWriteLock(ctx context.Context, repo RepositoryID, wait time.Duration) (WriteLock, error) {
	err := pollForLock(ctx, s.clock, wait, func() (bool, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.writeLock[repo] {
			return false, nil
		}
		s.writeLock[repo] = true
		return true, nil
	})
	if err == errLockWaitTimeout {
		return nil, newTransientError("AcquireWriteLock", "lock wait timeout", nil)
	}
	if err != nil {
		return nil, err
	}
	return &memWriteLock{store: s, repo: repo}, nil
}

func (s *MemoryVersionStore) ForceClearWriteMarker(_ context.Context, repo RepositoryID, device DeviceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureRepo(repo)
	row := s.rows[repo][device]
	row.IsWriting = false
	row.WriteOwner = ""
	row.WriteProperties = WriteProperties{}
	s.rows[repo][device] = row
	return nil
}

func (s *MemoryVersionStore) ensureRepo(repo RepositoryID) {
	if s.rows[repo] == nil {
		s.rows[repo] = map[DeviceID]WorkingCopyVersion{}
	}
}

// DropWriteLock simulates a lost advisory lock (e.g. a database restart)
// without clearing the durable isWriting marker, for S5-style tests.
func (s *MemoryVersionStore) DropWriteLock(repo RepositoryID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.writeLock, repo)
}

type memLock struct {
	release func()
	once    sync.Once
}

func (l *memLock) Release(context.Context) error {
	l.once.Do(l.release)
	return nil
}

type memWriteLock struct {
	store *MemoryVersionStore
	repo  RepositoryID
	once  sync.Once
}

func (l *memWriteLock) WillWrite(_ context.Context, repo RepositoryID, device DeviceID, props WriteProperties, owner string) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	l.store.ensureRepo(repo)
	row := l.store.rows[repo][device]
	row.IsWriting = true
	row.WriteProperties = props
	row.WriteOwner = owner
	l.store.rows[repo][device] = row
	return nil
}

func (l *memWriteLock) Release(_ context.Context) error {
	l.once.Do(func() {
		l.store.mu.Lock()
		defer l.store.mu.Unlock()
		delete(l.store.writeLock, l.repo)
	})
	return nil
}
