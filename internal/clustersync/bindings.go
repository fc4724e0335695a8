package clustersync

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BindingResolver enumerates the active devices bound to a repository's
// cluster service (spec §4.3). ActiveBindings returns a ConfigError if the
// repository has no associated cluster service.
type BindingResolver interface {
	ActiveBindings(ctx context.Context, repo Repository) ([]Binding, error)
}

// PostgresBindings resolves bindings from the same Postgres pool the version
// store uses, rather than standing up a second storage technology for what
// is, in this deployment, just another table the metadata service owns.
type PostgresBindings struct {
	pool *pgxpool.Pool
}

func NewPostgresBindings(pool *pgxpool.Pool) *PostgresBindings {
	return &PostgresBindings{pool: pool}
}

func (b *PostgresBindings) ActiveBindings(ctx context.Context, repo Repository) ([]Binding, error) {
	if !repo.hasClusterService() {
		return nil, newConfigError("ActiveBindings", fmt.Sprintf("repository %s has no associated cluster service", repo.DisplayName), nil)
	}
	rows, err := b.pool.Query(ctx, `
		SELECT device_id, transport, host_address
		FROM bindings
		WHERE repository_id = $1
	`, string(repo.ID))
	if err != nil {
		return nil, classifyPgError("ActiveBindings", err)
	}
	defer rows.Close()

	var out []Binding
	for rows.Next() {
		var device, transport, host string
		if err := rows.Scan(&device, &transport, &host); err != nil {
			return nil, classifyPgError("ActiveBindings", err)
		}
		out = append(out, Binding{DeviceID: DeviceID(device), Transport: Transport(transport), HostAddress: host})
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError("ActiveBindings", err)
	}
	return out, nil
}

// MemoryBindings is a fixed, in-process BindingResolver used by tests and
// by single-process development setups.
type MemoryBindings struct {
	mu       sync.Mutex
	byRepo   map[RepositoryID][]Binding
}

func NewMemoryBindings() *MemoryBindings {
	return &MemoryBindings{byRepo: map[RepositoryID][]Binding{}}
}

func (b *MemoryBindings) Set(repo RepositoryID, bindings []Binding) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byRepo[repo] = bindings
}

func (b *MemoryBindings) ActiveBindings(_ context.Context, repo Repository) ([]Binding, error) {
	if !repo.hasClusterService() {
		return nil, newConfigError("ActiveBindings", fmt.Sprintf("repository %s has no associated cluster service", repo.DisplayName), nil)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Binding, len(b.byRepo[repo.ID]))
	copy(out, b.byRepo[repo.ID])
	return out, nil
}
