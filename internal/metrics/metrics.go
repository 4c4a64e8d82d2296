// Package metrics exposes Prometheus collectors for the explorer service.
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
	crawlerPagesTotal          *prometheus.CounterVec
	crawlerBytesTotal          *prometheus.CounterVec
	crawlerRecordsTotal        *prometheus.CounterVec
	crawlerSessionsTotal       *prometheus.CounterVec
	crawlerActiveSessions      prometheus.Gauge
	crawlerPacingDelaySeconds  *prometheus.HistogramVec
	crawlerHeadlessPromotions  prometheus.Counter
	crawlerPublishTotal        *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of listing pages fetched, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_records_total",
				Help: "Records extracted from listing pages, labeled novel or duplicate.",
			},
			[]string{"outcome"},
		)

		crawlerSessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_sessions_total",
				Help: "Total number of crawl sessions finished, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerActiveSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_sessions",
				Help: "Number of crawl sessions currently running.",
			},
		)

		crawlerPacingDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_pacing_delay_seconds",
				Help:    "Histogram of pacing waits before continuation requests.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		crawlerHeadlessPromotions = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_headless_promotions_total",
				Help: "Pages re-fetched through the headless browser.",
			},
		)

		crawlerPublishTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_completions_published_total",
				Help: "Completion messages handed to the publisher, labeled by outcome.",
			},
			[]string{"outcome"},
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

// ObservePage records one page fetch outcome ("ok", "transport_error",
// "parse_error", "no_layout").
func ObservePage(rawURL, outcome string, bytesFetched int) {
	Init()
	site := SanitizeSite(rawURL)
	crawlerPagesTotal.WithLabelValues(site, outcome).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveRecords splits a page's raw record count into novel and duplicate.
func ObserveRecords(raw, novel int) {
	Init()
	if novel > 0 {
		crawlerRecordsTotal.WithLabelValues("novel").Add(float64(novel))
	}
	if dup := raw - novel; dup > 0 {
		crawlerRecordsTotal.WithLabelValues("duplicate").Add(float64(dup))
	}
}

// ObserveSession increments the session counter for a terminal status.
func ObserveSession(status string) {
	Init()
	crawlerSessionsTotal.WithLabelValues(status).Inc()
}

// IncActiveSessions increments the active sessions gauge.
func IncActiveSessions() {
	Init()
	crawlerActiveSessions.Inc()
}

// DecActiveSessions decrements the active sessions gauge.
func DecActiveSessions() {
	Init()
	crawlerActiveSessions.Dec()
}

// ObservePacingDelay records the duration of a pacing wait.
func ObservePacingDelay(site string, duration time.Duration) {
	Init()
	crawlerPacingDelaySeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveHeadlessPromotion counts a headless re-fetch.
func ObserveHeadlessPromotion() {
	Init()
	crawlerHeadlessPromotions.Inc()
}

// ObservePublish counts a completion publish attempt ("ok" or "error").
func ObservePublish(outcome string) {
	Init()
	crawlerPublishTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
