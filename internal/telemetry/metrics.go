// Package telemetry registers Prometheus metrics for the service.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llmtxt_jobs_started_total",
		Help: "Generation jobs that entered the running state.",
	})
	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llmtxt_jobs_finished_total",
		Help: "Generation jobs by terminal state.",
	}, []string{"state"})
	pagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llmtxt_pages_fetched_total",
		Help: "Pages fetched by extraction outcome.",
	}, []string{"status"})
	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "llmtxt_fetch_duration_seconds",
		Help:    "Wall-clock duration of page fetches.",
		Buckets: prometheus.DefBuckets,
	})
	artifactBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llmtxt_artifact_bytes",
		Help:    "Size of emitted artifacts.",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
	}, []string{"kind"})
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llmtxt_http_requests_total",
		Help: "HTTP requests by method, route, and status.",
	}, []string{"method", "route", "status"})
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llmtxt_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// ObserveJobStarted counts a job entering running.
func ObserveJobStarted() { jobsStarted.Inc() }

// ObserveJobFinished counts a terminal transition.
func ObserveJobFinished(state string) { jobsFinished.WithLabelValues(state).Inc() }

// ObservePageFetched counts one page by extraction status.
func ObservePageFetched(status string, elapsed time.Duration) {
	pagesFetched.WithLabelValues(status).Inc()
	fetchDuration.Observe(elapsed.Seconds())
}

// ObserveArtifact records an emitted artifact size.
func ObserveArtifact(kind string, size int) {
	artifactBytes.WithLabelValues(kind).Observe(float64(size))
}

// ObserveHTTPRequest records one API request.
func ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler { return promhttp.Handler() }
