// Package metrics exposes Prometheus collectors for the scraper.
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
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchRetriesTotal          prometheus.Counter
	pagesWalkedTotal           *prometheus.CounterVec
	recordsExtractedTotal      *prometheus.CounterVec
	recordsRejectedTotal       *prometheus.CounterVec
	upsertFailuresTotal        *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	runDurationSeconds         prometheus.Histogram
	lastSuccessTimestamp       prometheus.Gauge
	pacerWaitSeconds           *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetch_attempts_total",
				Help: "Upstream fetch attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)
		fetchRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "scraper_fetch_retries_total",
			Help: "Fetch attempts that were retried after a transient failure.",
		})
		pagesWalkedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_pages_walked_total",
				Help: "Listing pages fetched by the pagination walker, labeled by source.",
			},
			[]string{"source"},
		)
		recordsExtractedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_records_extracted_total",
				Help: "Raw rows extracted, labeled by source and layout.",
			},
			[]string{"source", "layout"},
		)
		recordsRejectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_records_rejected_total",
				Help: "Rows dropped by validation, labeled by source.",
			},
			[]string{"source"},
		)
		upsertFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_upsert_failures_total",
				Help: "Per-record storage failures, labeled by entity.",
			},
			[]string{"entity"},
		)
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_runs_total",
				Help: "Scrape run rows written, labeled by source and status.",
			},
			[]string{"source", "status"},
		)
		runDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scraper_run_duration_seconds",
			Help:    "Wall time of full orchestrator passes.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
		})
		lastSuccessTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_last_success_timestamp_seconds",
			Help: "Unix time of the most recent successful run.",
		})
		pacerWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_pacer_wait_seconds",
				Help:    "Politeness delays, labeled by lane.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"lane"},
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

// ObserveFetchAttempt counts one fetch attempt by outcome (ok, retry, terminal, exhausted).
func ObserveFetchAttempt(outcome string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(outcome).Inc()
	if outcome == "retry" {
		fetchRetriesTotal.Inc()
	}
}

// ObservePage counts one listing page walked.
func ObservePage(source string) {
	Init()
	pagesWalkedTotal.WithLabelValues(source).Inc()
}

// ObserveExtracted adds n extracted rows.
func ObserveExtracted(source, layout string, n int) {
	Init()
	if n > 0 {
		recordsExtractedTotal.WithLabelValues(source, layout).Add(float64(n))
	}
}

// ObserveRejected counts one rejected row.
func ObserveRejected(source string) {
	Init()
	recordsRejectedTotal.WithLabelValues(source).Inc()
}

// ObserveUpsertFailure counts one per-record storage failure.
func ObserveUpsertFailure(entity string) {
	Init()
	upsertFailuresTotal.WithLabelValues(entity).Inc()
}

// ObserveRun records a run row and, for terminal rows, the pass duration.
func ObserveRun(source, status string, duration time.Duration, finished time.Time, terminal bool) {
	Init()
	runsTotal.WithLabelValues(source, status).Inc()
	if !terminal {
		return
	}
	runDurationSeconds.Observe(duration.Seconds())
	if status == "success" {
		lastSuccessTimestamp.Set(float64(finished.Unix()))
	}
}

// ObservePacerWait records a politeness delay.
func ObservePacerWait(lane string, d time.Duration) {
	Init()
	pacerWaitSeconds.WithLabelValues(lane).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
