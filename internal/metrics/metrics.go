// Package metrics exposes the Prometheus collectors shared across the
// daemon.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "botfleet_jobs_enqueued_total",
		Help: "Jobs added to the queue.",
	}, []string{"kind"})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "botfleet_jobs_processed_total",
		Help: "Job attempts finished by workers.",
	}, []string{"kind", "outcome"}) // outcome: succeeded, retried, failed

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "botfleet_job_duration_seconds",
		Help:    "Wall-clock duration of job handler runs.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"kind"})

	JobsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "botfleet_jobs_reaped_total",
		Help: "Stuck RUNNING jobs returned to the queue by the reaper.",
	})

	CapabilityCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "botfleet_capability_calls_total",
		Help: "Provider calls made by the capability router.",
	}, []string{"kind", "provider", "success"})

	CapabilityCost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "botfleet_capability_cost_cents_total",
		Help: "Estimated provider spend in cents across successful calls.",
	})
)

// ObserveCapability records one router call outcome.
func ObserveCapability(kind, provider string, success bool, costCents int64) {
	CapabilityCalls.WithLabelValues(kind, provider, strconv.FormatBool(success)).Inc()
	if costCents > 0 {
		CapabilityCost.Add(float64(costCents))
	}
}
