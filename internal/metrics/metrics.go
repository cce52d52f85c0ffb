// Package metrics exposes Prometheus collectors for the ingest pipeline and
// its status server.
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
	artworksTotal              *prometheus.CounterVec
	stageFailuresTotal         *prometheus.CounterVec
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	uploadBytesTotal           *prometheus.CounterVec
	optimizerRunsTotal         *prometheus.CounterVec
	optimizerPasses            prometheus.Histogram
	optimizerReductionPercent  prometheus.Histogram
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	runInProgress              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		artworksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artvee_artworks_total",
				Help: "Artworks processed, labeled by outcome (succeeded, failed, skipped).",
			},
			[]string{"outcome"},
		)
		stageFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artvee_stage_failures_total",
				Help: "Per-artwork failures, labeled by pipeline stage and error kind.",
			},
			[]string{"stage", "kind"},
		)
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artvee_fetch_attempts_total",
				Help: "Image download attempts, labeled by site and result.",
			},
			[]string{"site", "result"},
		)
		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artvee_fetch_bytes_total",
				Help: "Bytes downloaded, labeled by site.",
			},
			[]string{"site"},
		)
		uploadBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artvee_upload_bytes_total",
				Help: "Bytes uploaded to the remote store, labeled by asset kind.",
			},
			[]string{"kind"},
		)
		optimizerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artvee_optimizer_runs_total",
				Help: "Optimizer invocations, labeled by result (untouched, compressed, abandoned).",
			},
			[]string{"result"},
		)
		optimizerPasses = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "artvee_optimizer_passes",
				Help:    "Re-encode passes needed per compressed image.",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
			},
		)
		optimizerReductionPercent = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "artvee_optimizer_reduction_percent",
				Help:    "Size reduction achieved by the optimizer.",
				Buckets: []float64{5, 10, 20, 30, 40, 50, 60, 70, 80, 90},
			},
		)
		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "artvee_rate_limit_delays_seconds",
				Help:    "Histogram of pacing wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
		runInProgress = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "artvee_run_in_progress",
				Help: "1 while a batch run is active.",
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

// ObserveArtwork counts a terminal artwork outcome.
func ObserveArtwork(outcome string) {
	Init()
	artworksTotal.WithLabelValues(outcome).Inc()
}

// ObserveStageFailure counts a failure attributed to a pipeline stage.
func ObserveStageFailure(stage, kind string) {
	Init()
	stageFailuresTotal.WithLabelValues(stage, kind).Inc()
}

// ObserveFetch records one download attempt.
func ObserveFetch(rawURL, result string, bytesFetched int64) {
	Init()
	site := SanitizeSite(rawURL)
	fetchAttemptsTotal.WithLabelValues(site, result).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveUpload records bytes shipped to the remote store.
func ObserveUpload(kind string, bytesUploaded int64) {
	Init()
	if bytesUploaded > 0 {
		uploadBytesTotal.WithLabelValues(kind).Add(float64(bytesUploaded))
	}
}

// ObserveOptimization records an optimizer run.
func ObserveOptimization(result string, passes int, reductionPercent float64) {
	Init()
	optimizerRunsTotal.WithLabelValues(result).Inc()
	if passes > 0 {
		optimizerPasses.Observe(float64(passes))
	}
	if reductionPercent > 0 {
		optimizerReductionPercent.Observe(reductionPercent)
	}
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// SetRunInProgress toggles the run gauge.
func SetRunInProgress(active bool) {
	Init()
	if active {
		runInProgress.Set(1)
		return
	}
	runInProgress.Set(0)
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
