package clustersync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// FetchDriver executes a pull from a named peer binding into the local
// working copy (spec §4.6). It only selects SSH-family bindings and only
// supports git-family repositories; the actual wire-level pull is delegated
// to a FetchExecutor.
type FetchDriver struct {
	log      *slog.Logger
	executor FetchExecutor
}

func NewFetchDriver(log *slog.Logger, executor FetchExecutor) *FetchDriver {
	return &FetchDriver{log: log, executor: executor}
}

// FetchFrom tries each fetchable leader binding in order, returning on the
// first success. If none succeed, it propagates the last error.
func (d *FetchDriver) FetchFrom(ctx context.Context, repo Repository, leaders []Binding) error {
	if repo.Family != FamilyGit {
		return newUnsupportedError("FetchFrom", fmt.Sprintf("repository family %q is not supported by the fetch driver", repo.Family), nil)
	}

	fetchable := make([]Binding, 0, len(leaders))
	for _, b := range leaders {
		if b.Transport == TransportSSH {
			fetchable = append(fetchable, b)
		}
	}
	if len(fetchable) == 0 {
		return newLeaderLostError("FetchFrom", "no up-to-date fetchable nodes", nil)
	}

	if _, err := os.Stat(repo.WorkingCopyPath); err != nil {
		return newNotInitializedError("FetchFrom", fmt.Sprintf("working copy directory %q does not exist; materialize it before syncing", repo.WorkingCopyPath), err)
	}

	var lastErr error
	for _, b := range fetchable {
		uri := fetchURI(b, repo)
		d.log.Info("fetching from leader", "repo", repo.ID, "device", b.DeviceID, "uri", uri)
		err := d.executor.Fetch(ctx, FetchRequest{
			Repo:            repo,
			WorkingCopyPath: repo.WorkingCopyPath,
			SourceURI:       uri,
			DeviceID:        b.DeviceID,
		})
		if err == nil {
			FetchAttempts.WithLabelValues(OutcomeSuccess).Inc()
			return nil
		}
		FetchAttempts.WithLabelValues(OutcomeFailure).Inc()
		d.log.Warn("fetch attempt failed, trying next leader", "repo", repo.ID, "device", b.DeviceID, "error", err)
		lastErr = err
	}
	return newTransientError("FetchFrom", "all fetchable leaders failed", lastErr)
}

func fetchURI(b Binding, repo Repository) string {
	return fmt.Sprintf("ssh://%s/%s", b.HostAddress, repo.ID)
}
