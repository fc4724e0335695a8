package clustersync

// RepositoryID identifies a hosted repository across the cluster.
type RepositoryID string

// DeviceID identifies one device (node) in the cluster.
type DeviceID string

// Transport is the wire transport a Binding advertises for fetches.
type Transport string

const (
	TransportSSH  Transport = "ssh"
	TransportHTTP Transport = "http"
)

// RepositoryFamily is the version-control protocol family of a repository.
// Only FamilyGit is supported by the fetch driver; anything else surfaces
// UnsupportedError when a git-only code path is reached.
type RepositoryFamily string

const (
	FamilyGit RepositoryFamily = "git"
)

// Binding associates a device with a repository's cluster service.
// Lifecycle is managed externally; the core only reads bindings.
type Binding struct {
	DeviceID    DeviceID
	Transport   Transport
	HostAddress string
}

// WorkingCopyVersion is one row keyed by (repository, device): the version
// of the working copy last durably known on that device, and the durable
// write marker that fences out concurrent writers (§3 of the spec).
type WorkingCopyVersion struct {
	Version         int64
	IsWriting       bool
	WriteProperties WriteProperties
	WriteOwner      string
}

// Repository is the subset of repository metadata the engine needs to
// decide enablement and to label error messages and fetch targets.
type Repository struct {
	ID               RepositoryID
	DisplayName      string
	WorkingCopyPath  string
	Family           RepositoryFamily
	Hosted           bool
	ClusterServiceID string
}

func (r Repository) hasClusterService() bool {
	return r.ClusterServiceID != ""
}
