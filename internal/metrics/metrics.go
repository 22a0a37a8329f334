// Package metrics exposes Prometheus collectors for the citation crawler.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch attempt results.
const (
	AttemptOK    = "ok"
	AttemptRetry = "retry"
	AttemptFatal = "fatal"
)

// Lookup outcomes.
const (
	LookupResolved = "resolved"
	LookupEmpty    = "empty"
	LookupFailed   = "failed"
	LookupLedger   = "ledger"
)

var (
	lookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citecrawler_lookups_total",
			Help: "Total number of identifier lookups, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	fetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citecrawler_fetch_attempts_total",
			Help: "Total number of fetch attempts, labeled by result.",
		},
		[]string{"result"},
	)

	recordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "citecrawler_records_total",
			Help: "Total number of citation records extracted.",
		},
	)

	rowsWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "citecrawler_rows_written_total",
			Help: "Total number of rows appended to the result store.",
		},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "citecrawler_active_workers",
			Help: "Number of workers currently processing an identifier.",
		},
	)

	fetchDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "citecrawler_fetch_duration_seconds",
			Help:    "Histogram of single fetch attempt latencies.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	rateLimitDelaySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "citecrawler_rate_limit_delay_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5},
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citecrawler_http_requests_total",
			Help: "Total number of admin HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLookup counts a finished lookup.
func ObserveLookup(outcome string) {
	lookupsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetchAttempt counts one fetch attempt.
func ObserveFetchAttempt(result string) {
	fetchAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveFetchDuration records how long a single attempt took.
func ObserveFetchDuration(d time.Duration) {
	fetchDurationSeconds.Observe(d.Seconds())
}

// AddRecords adds extracted records.
func AddRecords(n int) {
	if n > 0 {
		recordsTotal.Add(float64(n))
	}
}

// AddRowsWritten adds rows appended to the store.
func AddRowsWritten(n int) {
	if n > 0 {
		rowsWrittenTotal.Add(float64(n))
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(d time.Duration) {
	rateLimitDelaySeconds.Observe(d.Seconds())
}

// Middleware counts requests served by the admin router.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
	})
}
