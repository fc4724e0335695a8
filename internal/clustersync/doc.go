// Package clustersync implements the per-repository cluster synchronization
// engine: version-ordered read/write coordination across the set of devices
// that each hold a physical working copy of the same hosted repository.
package clustersync
