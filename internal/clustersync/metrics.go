package clustersync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Metric names.
	MetricNameLockWaitSeconds = "reposync_lock_wait_seconds"
	MetricNameErrors          = "reposync_errors_total"
	MetricNameFrozenRepos     = "reposync_frozen_repositories"
	MetricNameFetchAttempts   = "reposync_fetch_attempts_total"

	// Labels.
	LabelLockKind  = "lock_kind"
	LabelErrorType = "error_type"
	LabelOutcome   = "outcome"

	// Lock kinds.
	LockKindRead  = "read"
	LockKindWrite = "write"

	// Error types.
	ErrorTypeLockTimeout        = "lock_timeout"
	ErrorTypeAmbiguousAuthority = "ambiguous_authority"
	ErrorTypeNotBound           = "not_bound"
	ErrorTypeLeaderLost         = "leader_lost"
	ErrorTypeFetchFailed        = "fetch_failed"
	ErrorTypeFreezeDetected     = "freeze_detected"
	ErrorTypeDurableReleaseLost = "durable_release_exhausted"

	// Fetch outcomes.
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	LockWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    MetricNameLockWaitSeconds,
			Help:    "Time spent waiting to acquire a repository read or write lock",
			Buckets: prometheus.DefBuckets,
		},
		[]string{LabelLockKind},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameErrors,
			Help: "Number of synchronization errors encountered, by type",
		},
		[]string{LabelErrorType},
	)

	FrozenRepositories = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricNameFrozenRepos,
			Help: "Number of repositories currently observed with an unresolved interrupted-write marker",
		},
	)

	FetchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameFetchAttempts,
			Help: "Number of fetch attempts against a leader binding, by outcome",
		},
		[]string{LabelOutcome},
	)
)
