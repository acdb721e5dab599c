package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	globalPromStats *prometheusStats
	rateModes       = []string{"adaptive", "fast", "cooldown"}
)

type prometheusStats struct {
	job            string
	itemsProcessed *prometheus.CounterVec
	itemsCanceled  *prometheus.CounterVec
	storageErrors  *prometheus.CounterVec
	httpResponses  *prometheus.CounterVec
	retries        *prometheus.CounterVec
	inFlight       *prometheus.GaugeVec
	fetchTime      *prometheus.HistogramVec // in seconds
	currentDelay   *prometheus.GaugeVec     // in seconds
	concurrency    *prometheus.GaugeVec
	rateMode       *prometheus.GaugeVec
}

func newPrometheusStats(prefix, job string) *prometheusStats {
	return &prometheusStats{
		job: job,
		itemsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: prefix + "items_processed", Help: "Total number of items stored, by status"},
			[]string{"job", "status"},
		),
		itemsCanceled: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: prefix + "items_canceled", Help: "Total number of items abandoned by a shutdown"},
			[]string{"job"},
		),
		storageErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: prefix + "storage_errors", Help: "Total number of failed sink or checkpoint writes"},
			[]string{"job"},
		),
		httpResponses: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: prefix + "http_responses", Help: "Number of HTTP responses, by status code"},
			[]string{"job", "code"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: prefix + "retries", Help: "Number of retried attempts"},
			[]string{"job"},
		),
		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: prefix + "fetchers_in_flight", Help: "Number of running fetches"},
			[]string{"job"},
		),
		fetchTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: prefix + "fetch_duration_seconds", Help: "Duration of one item fetch, retries included", Buckets: prometheus.ExponentialBucketsRange(0.05, 600, 30)},
			[]string{"job"},
		),
		currentDelay: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: prefix + "current_delay_seconds", Help: "Current inter-request delay"},
			[]string{"job"},
		),
		concurrency: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: prefix + "concurrency_window", Help: "Current adaptive concurrency window"},
			[]string{"job"},
		),
		rateMode: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: prefix + "rate_mode", Help: "1 for the current rate controller mode"},
			[]string{"job", "mode"},
		),
	}
}

func registerPrometheusMetrics() {
	prometheus.MustRegister(globalPromStats.itemsProcessed)
	prometheus.MustRegister(globalPromStats.itemsCanceled)
	prometheus.MustRegister(globalPromStats.storageErrors)
	prometheus.MustRegister(globalPromStats.httpResponses)
	prometheus.MustRegister(globalPromStats.retries)
	prometheus.MustRegister(globalPromStats.inFlight)
	prometheus.MustRegister(globalPromStats.fetchTime)
	prometheus.MustRegister(globalPromStats.currentDelay)
	prometheus.MustRegister(globalPromStats.concurrency)
	prometheus.MustRegister(globalPromStats.rateMode)
}

// PrometheusHandler serves the registered metrics.
func PrometheusHandler() http.Handler {
	return promhttp.Handler()
}
