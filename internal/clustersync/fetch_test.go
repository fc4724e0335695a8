package clustersync

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	failFor map[DeviceID]error
	calls   []DeviceID
}

func (f *fakeExecutor) Fetch(_ context.Context, req FetchRequest) error {
	f.calls = append(f.calls, req.DeviceID)
	if err, ok := f.failFor[req.DeviceID]; ok {
		return err
	}
	return nil
}

func testFetchDriver(exec FetchExecutor) *FetchDriver {
	return NewFetchDriver(slog.New(slog.DiscardHandler), exec)
}

func gitRepo(t *testing.T) Repository {
	return Repository{ID: "repo-1", DisplayName: "repo-1", WorkingCopyPath: t.TempDir(), Family: FamilyGit}
}

func TestFetchDriver_FetchFrom_UnsupportedFamily(t *testing.T) {
	t.Parallel()
	d := testFetchDriver(&fakeExecutor{})
	repo := gitRepo(t)
	repo.Family = "hg"

	err := d.FetchFrom(context.Background(), repo, []Binding{{DeviceID: "a", Transport: TransportSSH}})
	require.True(t, IsUnsupported(err))
}

func TestFetchDriver_FetchFrom_NoFetchableLeaders(t *testing.T) {
	t.Parallel()
	d := testFetchDriver(&fakeExecutor{})
	repo := gitRepo(t)

	err := d.FetchFrom(context.Background(), repo, []Binding{{DeviceID: "b", Transport: TransportHTTP}})
	require.True(t, IsLeaderLost(err))
}

func TestFetchDriver_FetchFrom_WorkingCopyMissing(t *testing.T) {
	t.Parallel()
	d := testFetchDriver(&fakeExecutor{})
	repo := Repository{ID: "repo-1", WorkingCopyPath: "/nonexistent/path", Family: FamilyGit}

	err := d.FetchFrom(context.Background(), repo, []Binding{{DeviceID: "a", Transport: TransportSSH}})
	require.True(t, IsNotInitialized(err))
}

func TestFetchDriver_FetchFrom_TriesNextLeaderOnFailure(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{failFor: map[DeviceID]error{"a": errors.New("connection refused")}}
	d := testFetchDriver(exec)
	repo := gitRepo(t)

	err := d.FetchFrom(context.Background(), repo, []Binding{
		{DeviceID: "a", Transport: TransportSSH},
		{DeviceID: "b", Transport: TransportSSH},
	})
	require.NoError(t, err)
	require.Equal(t, []DeviceID{"a", "b"}, exec.calls)
}

func TestFetchDriver_FetchFrom_AllLeadersFail(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{failFor: map[DeviceID]error{
		"a": errors.New("refused"),
		"b": errors.New("timeout"),
	}}
	d := testFetchDriver(exec)
	repo := gitRepo(t)

	err := d.FetchFrom(context.Background(), repo, []Binding{
		{DeviceID: "a", Transport: TransportSSH},
		{DeviceID: "b", Transport: TransportSSH},
	})
	require.True(t, IsTransient(err))
}
