// Package metrics exposes Prometheus collectors for the harvester service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_upstream_requests_total",
			Help: "Total upstream API requests, labeled by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	upstreamRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_upstream_retries_total",
			Help: "Total upstream request retries, labeled by endpoint.",
		},
		[]string{"endpoint"},
	)

	commentsHarvestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_comments_total",
			Help: "Total comments harvested, labeled by kind (root or reply).",
		},
		[]string{"kind"},
	)

	harvestJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_jobs_total",
			Help: "Total harvest jobs reaching a terminal state, labeled by state.",
		},
		[]string{"state"},
	)

	runDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvest_run_duration_seconds",
			Help:    "Histogram of end-to-end pipeline run durations.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)

	permitWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvest_permit_wait_seconds",
			Help:    "Histogram of time spent waiting for a request permit.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)
)

// ObserveUpstreamRequest records one upstream request and its classified
// outcome.
func ObserveUpstreamRequest(endpoint, outcome string) {
	upstreamRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
}

// IncUpstreamRetry records one scheduled retry for an endpoint.
func IncUpstreamRetry(endpoint string) {
	upstreamRetriesTotal.WithLabelValues(endpoint).Inc()
}

// AddCommentsHarvested adds n harvested comments of the given kind.
func AddCommentsHarvested(kind string, n int) {
	if n <= 0 {
		return
	}
	commentsHarvestedTotal.WithLabelValues(kind).Add(float64(n))
}

// IncHarvestJob records one job reaching a terminal state.
func IncHarvestJob(state string) {
	harvestJobsTotal.WithLabelValues(state).Inc()
}

// ObserveRunDuration records one finished run.
func ObserveRunDuration(d time.Duration) {
	runDurationSeconds.Observe(d.Seconds())
}

// ObservePermitWait records time spent blocked on the permit pool.
func ObservePermitWait(d time.Duration) {
	permitWaitSeconds.Observe(d.Seconds())
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
