package clustersync

import "context"

// MetadataResolver supplies repository identity, path, family, hosted flag,
// and cluster-service binding — the repository metadata store of spec §1.
type MetadataResolver interface {
	Repository(ctx context.Context, id RepositoryID) (Repository, error)
}

// DeviceIdentity tells the core which device it is running on (spec §1's
// device-identity service). ok is false when this process has no known
// device identity (e.g. it is not bound to any cluster service).
type DeviceIdentity interface {
	ThisDeviceID(ctx context.Context) (id DeviceID, ok bool, err error)
}

// PushEventSource is the monotonic identifier source used to mint new
// post-write versions (spec §1, §4.5 step 2). ok is false when no event has
// ever been recorded for the repository.
type PushEventSource interface {
	LatestEventID(ctx context.Context, repo RepositoryID) (id int64, ok bool, err error)
}

// FetchRequest is everything the fetch executor needs to run one pull.
type FetchRequest struct {
	Repo            Repository
	WorkingCopyPath string
	SourceURI       string
	DeviceID        DeviceID
}

// FetchExecutor performs the actual wire-level pull (spec §1's fetch
// executor, invoked per spec §6: "fetch all refs including prunes", run in
// the working copy directory, authenticated as the device, privileged to
// daemon). A nonzero exit / transport error is a fetch failure.
type FetchExecutor interface {
	Fetch(ctx context.Context, req FetchRequest) error
}
