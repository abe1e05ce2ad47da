// Package metrics exposes Prometheus collectors for the crawler service.
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
	fetchesTotal               *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	headlessPromotionsTotal    *prometheus.CounterVec
	tasksTotal                 *prometheus.CounterVec
	ingestTotal                *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	activeIngestWorkers        prometheus.Gauge
	ingestQueueDepth           prometheus.Gauge
	ingestQueueCapacity        prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call repeatedly;
// the Observe helpers call it themselves.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_fetches_total",
				Help: "Total number of pages fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		headlessPromotionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_headless_promotions_total",
				Help: "Fetches repeated in the headless browser, labeled by site.",
			},
			[]string{"site"},
		)

		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_tasks_total",
				Help: "Crawl tasks that reached a terminal state, labeled by stage, state and outcome.",
			},
			[]string{"stage", "state", "outcome"},
		)

		ingestTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_ingest_total",
				Help: "Ingest results, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_runs_total",
				Help: "Finished crawl runs, labeled by status.",
			},
			[]string{"status"},
		)

		activeIngestWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobcrawler_active_ingest_workers",
				Help: "Number of ingest workers currently handling a posting.",
			},
		)

		ingestQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobcrawler_ingest_queue_depth",
				Help: "Ingest jobs buffered and waiting for a worker.",
			},
		)

		ingestQueueCapacity = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobcrawler_ingest_queue_capacity",
				Help: "Size of the ingest queue buffer.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobcrawler_rate_limit_delays_seconds",
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

// ObserveFetch counts one fetch and its body size.
func ObserveFetch(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHeadlessPromotion counts a fetch repeated in the headless browser.
func ObserveHeadlessPromotion(site string) {
	Init()
	headlessPromotionsTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveTask counts a task reaching its terminal state.
func ObserveTask(stage, state, outcome string) {
	Init()
	tasksTotal.WithLabelValues(stage, state, outcome).Inc()
}

// ObserveIngest counts an ingest result.
func ObserveIngest(outcome string) {
	Init()
	ingestTotal.WithLabelValues(outcome).Inc()
}

// ObserveRun counts a finished run.
func ObserveRun(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active ingest workers gauge.
func IncActiveWorkers() {
	Init()
	activeIngestWorkers.Inc()
}

// DecActiveWorkers decrements the active ingest workers gauge.
func DecActiveWorkers() {
	Init()
	activeIngestWorkers.Dec()
}

// SetIngestQueue records the ingest queue's current depth and capacity.
func SetIngestQueue(depth, capacity int) {
	Init()
	ingestQueueDepth.Set(float64(depth))
	ingestQueueCapacity.Set(float64(capacity))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
