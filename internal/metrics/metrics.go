// Package metrics exposes Prometheus collectors for the relay service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	relayJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_jobs_total",
			Help: "Total number of jobs finished, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	relayDuplicatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_duplicates_total",
			Help: "Total number of duplicate submissions rejected, labeled by matching partition.",
		},
		[]string{"partition"},
	)

	relayQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_queue_depth",
			Help: "Number of jobs currently waiting in the queue.",
		},
	)

	relayForwardSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_forward_duration_seconds",
			Help:    "Histogram of external tool run durations.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	relayDedupLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_dedup_lookups_total",
			Help: "Total number of dedup lookups, labeled by result.",
		},
		[]string{"result"},
	)

	relayNotifyFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_notify_failures_total",
			Help: "Total number of replies that could not be delivered.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the job counter for the given terminal outcome.
func ObserveJob(outcome string) {
	relayJobsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuplicate counts a rejected duplicate by the partition it matched.
func ObserveDuplicate(partition string) {
	relayDuplicatesTotal.WithLabelValues(partition).Inc()
}

// SetQueueDepth records the current queue size.
func SetQueueDepth(n int) {
	relayQueueDepth.Set(float64(n))
}

// ObserveForward records one external tool run duration.
func ObserveForward(d time.Duration) {
	relayForwardSeconds.Observe(d.Seconds())
}

// ObserveDedupLookup counts one dedup lookup ("hit" or "miss").
func ObserveDedupLookup(result string) {
	relayDedupLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveNotifyFailure counts one undeliverable reply.
func ObserveNotifyFailure() {
	relayNotifyFailuresTotal.Inc()
}

// ObserveHTTPRequest records one handled HTTP request.
func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}
