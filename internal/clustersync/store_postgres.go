package clustersync

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
)

// PostgresVersionStore is the Postgres-backed VersionStore: version rows
// live in working_copy_versions, and locks are Postgres session-level
// advisory locks (pg_advisory_lock / pg_try_advisory_lock), hashed from the
// spec's lock names into the bigint key space. It follows the teacher's
// pgxpool setup idiom (lake/api/config/postgres.go): a bounded pool, a
// migration run at construction, wrapped errors rather than panics.
type PostgresVersionStore struct {
	pool  *pgxpool.Pool
	clock clockwork.Clock
}

// NewPostgresVersionStore runs schema migrations against pool and returns a
// ready VersionStore. clock defaults to the real wall clock; tests should
// pass a clockwork.FakeClock to exercise lock-wait timeouts without delay.
func NewPostgresVersionStore(ctx context.Context, pool *pgxpool.Pool, clock clockwork.Clock) (*PostgresVersionStore, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if err := runMigrations(ctx, pool); err != nil {
		return nil, fmt.Errorf("clustersync: run migrations: %w", err)
	}
	return &PostgresVersionStore{pool: pool, clock: clock}, nil
}

func lockKeyHash(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}

func (s *PostgresVersionStore) LoadVersions(ctx context.Context, repo RepositoryID) (map[DeviceID]WorkingCopyVersion, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT device_id, version, is_writing, write_props, write_owner
		FROM working_copy_versions
		WHERE repository_id = $1
	`, string(repo))
	if err != nil {
		return nil, classifyPgError("LoadVersions", err)
	}
	defer rows.Close()

	out := map[DeviceID]WorkingCopyVersion{}
	for rows.Next() {
		var device string
		var v WorkingCopyVersion
		var propsJSON []byte
		if err := rows.Scan(&device, &v.Version, &v.IsWriting, &propsJSON, &v.WriteOwner); err != nil {
			return nil, classifyPgError("LoadVersions", err)
		}
		if len(propsJSON) > 0 && v.IsWriting {
			if err := json.Unmarshal(propsJSON, &v.WriteProperties); err != nil {
				return nil, fmt.Errorf("clustersync: LoadVersions: decode write properties: %w", err)
			}
		}
		out[DeviceID(device)] = v
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError("LoadVersions", err)
	}
	return out, nil
}

func (s *PostgresVersionStore) UpdateVersion(ctx context.Context, repo RepositoryID, device DeviceID, version int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO working_copy_versions (repository_id, device_id, version, is_writing, write_props, write_owner, updated_at)
		VALUES ($1, $2, $3, FALSE, '{}', '', NOW())
		ON CONFLICT (repository_id, device_id) DO UPDATE SET
			version = EXCLUDED.version, is_writing = FALSE, write_props = '{}', write_owner = '', updated_at = NOW()
	`, string(repo), string(device), version)
	if err != nil {
		return classifyPgError("UpdateVersion", err)
	}
	return nil
}

func (s *PostgresVersionStore) DidWrite(ctx context.Context, repo RepositoryID, device DeviceID, _, newVersion int64, owner string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE working_copy_versions
		SET version = $1, is_writing = FALSE, write_props = '{}', write_owner = '', updated_at = NOW()
		WHERE repository_id = $2 AND device_id = $3 AND write_owner = $4
	`, newVersion, string(repo), string(device), owner)
	if err != nil {
		return false, classifyPgError("DidWrite", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresVersionStore) ForceClearWriteMarker(ctx context.Context, repo RepositoryID, device DeviceID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO working_copy_versions (repository_id, device_id, version, is_writing, write_props, write_owner, updated_at)
		VALUES ($1, $2, 0, FALSE, '{}', '', NOW())
		ON CONFLICT (repository_id, device_id) DO UPDATE SET
			is_writing = FALSE, write_props = '{}', write_owner = '', updated_at = NOW()
	`, string(repo), string(device))
	if err != nil {
		return classifyPgError("ForceClearWriteMarker", err)
	}
	return nil
}

func (s *PostgresVersionStore) AcquireReadLock(ctx context.Context, repo RepositoryID, device DeviceID, wait time.Duration) (Lock, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, classifyPgError("AcquireReadLock", err)
	}
	key := lockKeyHash(readLockKey(repo, device))
	if err := s.tryAcquireOnConn(ctx, conn, key, wait); err != nil {
		conn.Release()
		return nil, err
	}
	return &pgLock{conn: conn, key: key}, nil
}

func (s *PostgresVersionStore) AcquireWriteLock(ctx context.Context, repo RepositoryID, wait time.Duration) (WriteLock, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, classifyPgError("AcquireWriteLock", err)
	}
	key := lockKeyHash(fmt.Sprintf("repository-write-%s", repo))
	if err := s.tryAcquireOnConn(ctx, conn, key, wait); err != nil {
		conn.Release()
		return nil, err
	}
	return &pgWriteLock{conn: conn, key: key}, nil
}

// tryAcquireOnConn polls pg_try_advisory_lock on the pinned connection so
// the session that eventually unlocks is the same one that acquired it.
func (s *PostgresVersionStore) tryAcquireOnConn(ctx context.Context, conn *pgxpool.Conn, key int64, wait time.Duration) error {
	err := pollForLock(ctx, s.clock, wait, func() (bool, error) {
		var acquired bool
		if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
			return false, classifyPgError("AcquireLock", err)
		}
		return acquired, nil
	})
	if err == errLockWaitTimeout {
		return newTransientError("AcquireLock", "lock wait timeout", nil)
	}
	return err
}

type pgLock struct {
	conn *pgxpool.Conn
	key  int64
	once sync.Once
}

func (l *pgLock) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		_, unlockErr := l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, l.key)
		l.conn.Release()
		err = unlockErr
	})
	return err
}

type pgWriteLock struct {
	conn *pgxpool.Conn
	key  int64
	once sync.Once
}

func (l *pgWriteLock) WillWrite(ctx context.Context, repo RepositoryID, device DeviceID, props WriteProperties, owner string) error {
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("clustersync: WillWrite: marshal write properties: %w", err)
	}
	_, err = l.conn.Exec(ctx, `
		INSERT INTO working_copy_versions (repository_id, device_id, version, is_writing, write_props, write_owner, updated_at)
		VALUES ($1, $2, 0, TRUE, $3, $4, NOW())
		ON CONFLICT (repository_id, device_id) DO UPDATE SET
			is_writing = TRUE, write_props = EXCLUDED.write_props, write_owner = EXCLUDED.write_owner, updated_at = NOW()
	`, string(repo), string(device), propsJSON, owner)
	if err != nil {
		return classifyPgError("WillWrite", err)
	}
	return nil
}

func (l *pgWriteLock) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		_, unlockErr := l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, l.key)
		l.conn.Release()
		err = unlockErr
	})
	return err
}
