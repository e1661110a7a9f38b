// Package metrics exposes Prometheus collectors for the crawl pipeline and its API.
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
	pagesTotal                 *prometheus.CounterVec
	listingsTotal              *prometheus.CounterVec
	jobsTotal                  *prometheus.CounterVec
	taskRetriesTotal           *prometheus.CounterVec
	tabsClosedTotal            *prometheus.CounterVec
	resolveDurationSeconds     *prometheus.HistogramVec
	activeWorkers              *prometheus.GaugeVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_pages_total",
				Help: "Search result pages processed, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		listingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_listings_total",
				Help: "Raw listings extracted from search pages, labeled by site.",
			},
			[]string{"site"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_jobs_total",
				Help: "Finalized job records, labeled by status.",
			},
			[]string{"status"},
		)

		taskRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_task_retries_total",
				Help: "Task re-enqueues after a retryable failure, labeled by task type.",
			},
			[]string{"type"},
		)

		tabsClosedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobcrawler_tabs_closed_total",
				Help: "Browser tabs closed, labeled by reason.",
			},
			[]string{"reason"},
		)

		resolveDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobcrawler_resolve_duration_seconds",
				Help:    "Click-and-capture resolve latency, labeled by outcome.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"outcome"},
		)

		activeWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "jobcrawler_active_workers",
				Help: "Workers currently processing a task, labeled by stage.",
			},
			[]string{"stage"},
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
	Init()
	return promhttp.Handler()
}

// ObservePage counts a processed search page.
func ObservePage(site, outcome string) {
	Init()
	pagesTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveListings counts raw listings extracted from site.
func ObserveListings(site string, n int) {
	Init()
	if n > 0 {
		listingsTotal.WithLabelValues(SanitizeSite(site)).Add(float64(n))
	}
}

// ObserveJob counts a finalized job record.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveRetry counts a task re-enqueue.
func ObserveRetry(taskType string) {
	Init()
	taskRetriesTotal.WithLabelValues(taskType).Inc()
}

// IncTabsClosed counts a closed tab.
func IncTabsClosed(reason string) {
	Init()
	tabsClosedTotal.WithLabelValues(reason).Inc()
}

// ObserveResolve records a resolve attempt's latency.
func ObserveResolve(outcome string, duration time.Duration) {
	Init()
	resolveDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge for stage.
func IncActiveWorkers(stage string) {
	Init()
	activeWorkers.WithLabelValues(stage).Inc()
}

// DecActiveWorkers decrements the active workers gauge for stage.
func DecActiveWorkers(stage string) {
	Init()
	activeWorkers.WithLabelValues(stage).Dec()
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
