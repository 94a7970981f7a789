// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchTotal                 *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchRetriesTotal          *prometheus.CounterVec
	poolTasksTotal             *prometheus.CounterVec
	poolActiveWorkers          *prometheus.GaugeVec
	storeMergesTotal           *prometheus.CounterVec
	storeRecords               prometheus.Gauge
	listingEndPage             prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_total",
				Help: "Completed fetches, labeled by site and outcome (ok, transient, permanent).",
			},
			[]string{"site", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_bytes_total",
				Help: "Total number of body bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_retries_total",
				Help: "Fetch attempts repeated after a transient failure, labeled by site.",
			},
			[]string{"site"},
		)

		poolTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_pool_tasks_total",
				Help: "Tasks executed by a worker pool, labeled by pool and outcome.",
			},
			[]string{"pool", "outcome"},
		)

		poolActiveWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "harvester_pool_active_workers",
				Help: "Number of workers currently executing a task, labeled by pool.",
			},
			[]string{"pool"},
		)

		storeMergesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_store_merges_total",
				Help: "Store mutations, labeled by kind (inserted, updated, detail).",
			},
			[]string{"kind"},
		)

		storeRecords = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_store_records",
				Help: "Number of records held in the canonical store.",
			},
		)

		listingEndPage = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_listing_end_page",
				Help: "First listing page observed empty in the last run (0 if none).",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records a completed fetch.
func ObserveFetch(rawURL, outcome string, bytesFetched int) {
	Init()
	site := SanitizeSite(rawURL)
	fetchTotal.WithLabelValues(site, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveRetry records one repeated fetch attempt.
func ObserveRetry(rawURL string) {
	Init()
	fetchRetriesTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveTask records a task outcome for a pool.
func ObserveTask(pool, outcome string) {
	Init()
	poolTasksTotal.WithLabelValues(pool, outcome).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers(pool string) {
	Init()
	poolActiveWorkers.WithLabelValues(pool).Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers(pool string) {
	Init()
	poolActiveWorkers.WithLabelValues(pool).Dec()
}

// ObserveMerge adds n store mutations of the given kind.
func ObserveMerge(kind string, n int) {
	Init()
	if n <= 0 {
		return
	}
	storeMergesTotal.WithLabelValues(kind).Add(float64(n))
}

// SetStoreRecords publishes the current store size.
func SetStoreRecords(n int) {
	Init()
	storeRecords.Set(float64(n))
}

// SetListingEndPage publishes the end-of-listing page of the last run.
func SetListingEndPage(page int) {
	Init()
	listingEndPage.Set(float64(page))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
