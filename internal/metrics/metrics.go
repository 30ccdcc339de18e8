// Package metrics registers the Prometheus counters and histograms
// exposed by the host daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the process-wide Prometheus registry.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// JobsStarted counts Start commands handed to a backend.
	JobsStarted = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "attestable_builds_jobs_started_total",
		Help: "Number of build jobs started, by backend.",
	}, []string{"backend"})

	// JobsFailed counts sessions that ended in an error before producing
	// an attestation.
	JobsFailed = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "attestable_builds_jobs_failed_total",
		Help: "Number of build jobs that failed before attestation, by backend.",
	}, []string{"backend"})

	// AttestationsPublished counts entries successfully handed to the
	// transparency log.
	AttestationsPublished = factory.NewCounter(prometheus.CounterOpts{
		Name: "attestable_builds_attestations_published_total",
		Help: "Number of attestation entries published to the transparency log.",
	})

	// SessionDuration records how long a host<->enclave session ran, end
	// to end.
	SessionDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "attestable_builds_session_duration_seconds",
		Help:    "Duration of a host<->enclave session from connect to attestation.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)
