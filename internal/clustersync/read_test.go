package clustersync

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func newReadTestStack(t *testing.T, clock clockwork.Clock) (*MemoryVersionStore, *MemoryBindings, *fakeExecutor, *ReadSynchronizer) {
	store := NewMemoryVersionStore(clock)
	bindings := NewMemoryBindings()
	exec := &fakeExecutor{}
	fetch := NewFetchDriver(slog.New(slog.DiscardHandler), exec)
	read := NewReadSynchronizer(store, bindings, fetch, slog.New(slog.DiscardHandler), clock, 0)
	return store, bindings, exec, read
}

// TestReadSynchronizer_TwoNodePromotion is the S1 scenario: B is behind A
// and pulls up to A's version.
func TestReadSynchronizer_TwoNodePromotion(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	store, bindings, exec, read := newReadTestStack(t, clock)

	repo := gitRepo(t)
	repo.ClusterServiceID = "svc-1"
	bindings.Set(repo.ID, []Binding{
		{DeviceID: "a", Transport: TransportSSH, HostAddress: "a.local"},
		{DeviceID: "b", Transport: TransportSSH, HostAddress: "b.local"},
	})
	require.NoError(t, store.UpdateVersion(context.Background(), repo.ID, "a", 7))
	require.NoError(t, store.UpdateVersion(context.Background(), repo.ID, "b", 5))

	got, err := read.Read(context.Background(), repo, "b")
	require.NoError(t, err)
	require.Equal(t, int64(7), got)
	require.Equal(t, []DeviceID{"a"}, exec.calls)

	versions, err := store.LoadVersions(context.Background(), repo.ID)
	require.NoError(t, err)
	require.Equal(t, int64(7), versions["a"].Version)
	require.Equal(t, int64(7), versions["b"].Version)
}

// TestReadSynchronizer_SoleDeviceBootstrap is the S2 scenario.
func TestReadSynchronizer_SoleDeviceBootstrap(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	store, bindings, _, read := newReadTestStack(t, clock)

	repo := gitRepo(t)
	repo.ClusterServiceID = "svc-1"
	bindings.Set(repo.ID, []Binding{{DeviceID: "a", Transport: TransportSSH, HostAddress: "a.local"}})

	got, err := read.Read(context.Background(), repo, "a")
	require.NoError(t, err)
	require.Equal(t, int64(0), got)

	versions, err := store.LoadVersions(context.Background(), repo.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), versions["a"].Version)
}

// TestReadSynchronizer_AmbiguousBootstrapRefused is the S3 scenario.
func TestReadSynchronizer_AmbiguousBootstrapRefused(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	_, bindings, _, read := newReadTestStack(t, clock)

	repo := gitRepo(t)
	repo.ClusterServiceID = "svc-1"
	bindings.Set(repo.ID, []Binding{
		{DeviceID: "a", Transport: TransportSSH, HostAddress: "a.local"},
		{DeviceID: "b", Transport: TransportSSH, HostAddress: "b.local"},
	})

	_, err := read.Read(context.Background(), repo, "a")
	require.True(t, IsConfig(err))
	require.Contains(t, err.Error(), "more than one device")
}

func TestReadSynchronizer_NotBoundDeviceRefused(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	_, bindings, _, read := newReadTestStack(t, clock)

	repo := gitRepo(t)
	repo.ClusterServiceID = "svc-1"
	bindings.Set(repo.ID, []Binding{{DeviceID: "a", Transport: TransportSSH, HostAddress: "a.local"}})

	_, err := read.Read(context.Background(), repo, "c")
	require.True(t, IsConfig(err))
	require.Contains(t, err.Error(), "not bound")
}

// TestReadSynchronizer_LeaderLost is the S6 scenario: the recorded leader's
// only binding is HTTP-only, so it cannot be pulled from.
func TestReadSynchronizer_LeaderLost(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	store, bindings, _, read := newReadTestStack(t, clock)

	repo := gitRepo(t)
	repo.ClusterServiceID = "svc-1"
	bindings.Set(repo.ID, []Binding{
		{DeviceID: "a", Transport: TransportSSH, HostAddress: "a.local"},
		{DeviceID: "b", Transport: TransportHTTP, HostAddress: "b.local"},
	})
	require.NoError(t, store.UpdateVersion(context.Background(), repo.ID, "a", 3))
	require.NoError(t, store.UpdateVersion(context.Background(), repo.ID, "b", 12))

	_, err := read.Read(context.Background(), repo, "a")
	require.True(t, IsLeaderLost(err))
}

func TestReadSynchronizer_AlreadyAtMax_NoPull(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	store, bindings, exec, read := newReadTestStack(t, clock)

	repo := gitRepo(t)
	repo.ClusterServiceID = "svc-1"
	bindings.Set(repo.ID, []Binding{
		{DeviceID: "a", Transport: TransportSSH, HostAddress: "a.local"},
		{DeviceID: "b", Transport: TransportSSH, HostAddress: "b.local"},
	})
	require.NoError(t, store.UpdateVersion(context.Background(), repo.ID, "a", 7))
	require.NoError(t, store.UpdateVersion(context.Background(), repo.ID, "b", 7))

	got, err := read.Read(context.Background(), repo, "b")
	require.NoError(t, err)
	require.Equal(t, int64(7), got)
	require.Empty(t, exec.calls)
}

func TestReadSynchronizer_ReadLockTimeout(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	store, bindings, _, read := newReadTestStack(t, clock)
	read.lockWait = 200 * time.Millisecond

	repo := gitRepo(t)
	repo.ClusterServiceID = "svc-1"
	bindings.Set(repo.ID, []Binding{{DeviceID: "a", Transport: TransportSSH, HostAddress: "a.local"}})

	held, err := store.AcquireReadLock(context.Background(), repo.ID, "a", time.Second)
	require.NoError(t, err)
	defer held.Release(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := read.Read(context.Background(), repo, "a")
		done <- err
	}()

	clock.BlockUntil(1)
	clock.Advance(300 * time.Millisecond)

	err = <-done
	require.True(t, IsTransient(err))
}
