// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	racesTotal                 *prometheus.CounterVec
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	fieldWarningsTotal         *prometheus.CounterVec
	storeRetriesTotal          prometheus.Counter
	rateLimitDelaySeconds      prometheus.Histogram
	robotsFallbackTotal        prometheus.Counter
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times; every Observe helper
// calls it so collectors exist before first use.
func Init() {
	once.Do(func() {
		racesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boatrace_races_total",
				Help: "Total number of races processed, labeled by venue and status.",
			},
			[]string{"venue", "status"},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boatrace_fetch_attempts_total",
				Help: "Total number of page fetch attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "boatrace_fetch_duration_seconds",
				Help:    "Histogram of single fetch attempt latencies, labeled by outcome.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"outcome"},
		)

		fieldWarningsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boatrace_field_warnings_total",
				Help: "Total number of field normalization warnings, labeled by kind.",
			},
			[]string{"kind"},
		)

		storeRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "boatrace_store_retries_total",
				Help: "Total number of race transactions retried after a store failure.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "boatrace_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)

		robotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "boatrace_robots_fallback_total",
				Help: "Total robots.txt probes that timed out and fell back to allow-all.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "boatrace_active_workers",
				Help: "Number of workers currently processing a race.",
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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRace increments the race counter for the given venue and status.
func ObserveRace(venue, status string) {
	Init()
	racesTotal.WithLabelValues(venue, status).Inc()
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(outcome string, duration time.Duration) {
	Init()
	fetchAttemptsTotal.WithLabelValues(outcome).Inc()
	fetchDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveFieldWarnings adds n warnings of the given kind.
func ObserveFieldWarnings(kind string, n int) {
	Init()
	if n <= 0 {
		return
	}
	fieldWarningsTotal.WithLabelValues(kind).Add(float64(n))
}

// ObserveStoreRetry increments the store retry counter.
func ObserveStoreRetry() {
	Init()
	storeRetriesTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveRobotsFallback increments the robots.txt fallback counter.
func ObserveRobotsFallback() {
	Init()
	robotsFallbackTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
