// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scraperFetchesTotal            *prometheus.CounterVec
	scraperFetchBytesTotal         *prometheus.CounterVec
	scraperFetchDurationSeconds    *prometheus.HistogramVec
	scraperExtractionsTotal        *prometheus.CounterVec
	scraperExtractionDuration      *prometheus.HistogramVec
	scraperHeadlessPromotionsTotal prometheus.Counter
	scraperInflightRequests        prometheus.Gauge
	httpRequestsTotal              *prometheus.CounterVec
	httpRequestDurationSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scraperFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetches_total",
				Help: "Total number of page fetches, labeled by site, mode and outcome.",
			},
			[]string{"site", "mode", "outcome"},
		)

		scraperFetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetch_bytes_total",
				Help: "Total number of document bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		scraperFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by mode.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90, 120},
			},
			[]string{"mode"},
		)

		scraperExtractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_extractions_total",
				Help: "Total number of extractions, labeled by strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		)

		scraperExtractionDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_extraction_duration_seconds",
				Help:    "Histogram of extraction latencies, labeled by strategy.",
				Buckets: []float64{0.01, 0.05, 0.25, 1, 5, 15, 30},
			},
			[]string{"strategy"},
		)

		scraperHeadlessPromotionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_headless_promotions_total",
				Help: "Total number of auto-mode fetches promoted from static to headless.",
			},
		)

		scraperInflightRequests = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_inflight_requests",
				Help: "Number of scrape requests currently being processed.",
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
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

// ObserveFetch records one fetch. outcome is "success" or a failure kind.
func ObserveFetch(site, mode, outcome string, bytesFetched int, duration time.Duration) {
	Init()
	scraperFetchesTotal.WithLabelValues(site, mode, outcome).Inc()
	scraperFetchDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
	if bytesFetched > 0 {
		scraperFetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveExtraction records one extraction attempt.
func ObserveExtraction(strategy, outcome string, duration time.Duration) {
	Init()
	scraperExtractionsTotal.WithLabelValues(strategy, outcome).Inc()
	scraperExtractionDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// ObserveHeadlessPromotion counts an auto-mode fetch that needed the browser.
func ObserveHeadlessPromotion() {
	Init()
	scraperHeadlessPromotionsTotal.Inc()
}

// IncInflight increments the in-flight request gauge.
func IncInflight() {
	Init()
	scraperInflightRequests.Inc()
}

// DecInflight decrements the in-flight request gauge.
func DecInflight() {
	Init()
	scraperInflightRequests.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
