// Package metrics provides Prometheus metrics for the bridge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bridge.
type Metrics struct {
	// Record metrics
	RecordsSubmitted *prometheus.CounterVec
	RecordsSkipped   *prometheus.CounterVec
	RecordsFailed    *prometheus.CounterVec

	// Batch metrics
	BatchesProcessed *prometheus.CounterVec
	LastOffset       *prometheus.GaugeVec

	// Timing metrics
	SubmissionDuration *prometheus.HistogramVec
	BatchDuration      *prometheus.HistogramVec

	// Pipeline metrics
	InFlightSubmissions prometheus.Gauge

	// Error metrics
	SourceErrors    *prometheus.CounterVec
	LedgerErrors    *prometheus.CounterVec
	TransportErrors *prometheus.CounterVec
	RetryAttempts   *prometheus.CounterVec

	// Throughput
	RecordsPerSecond prometheus.Gauge
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // Address for metrics HTTP server (e.g., ":9090")
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "sourcify_bridge"
	}

	m := &Metrics{
		RecordsSubmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_submitted_total",
				Help:      "Total number of records submitted successfully",
			},
			[]string{"network", "mode"},
		),
		RecordsSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_skipped_total",
				Help:      "Total number of records skipped (already submitted)",
			},
			[]string{"network", "mode"},
		),
		RecordsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_failed_total",
				Help:      "Total number of records that failed submission",
			},
			[]string{"network", "mode"},
		),
		BatchesProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_processed_total",
				Help:      "Total number of batches processed",
			},
			[]string{"network", "mode"},
		),
		LastOffset: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_offset",
				Help:      "Offset of the most recently checkpointed batch",
			},
			[]string{"network", "mode"},
		),
		SubmissionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "submission_duration_seconds",
				Help:      "Time to submit a single record",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"network", "mode"},
		),
		BatchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Total time to process a batch (dedup + submit + retry)",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~400s
			},
			[]string{"network", "mode"},
		),
		InFlightSubmissions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_submissions",
				Help:      "Number of submissions currently in flight",
			},
		),
		SourceErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_errors_total",
				Help:      "Total number of source read errors",
			},
			[]string{"network", "source_type"},
		),
		LedgerErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_errors_total",
				Help:      "Total number of ledger write errors",
			},
			[]string{"network"},
		),
		TransportErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_errors_total",
				Help:      "Total number of labeling service errors",
			},
			[]string{"network", "mode"},
		),
		RetryAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"network", "mode"},
		),
		RecordsPerSecond: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "records_per_second",
				Help:      "Current record processing rate",
			},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// Labels is a convenience type for metric labels.
type Labels struct {
	Network    string
	Mode       string // "onchain" or "offchain"
	SourceType string
}

// AddRecordsSubmitted adds to the submitted records counter.
func (m *Metrics) AddRecordsSubmitted(l Labels, count float64) {
	m.RecordsSubmitted.WithLabelValues(l.Network, l.Mode).Add(count)
}

// AddRecordsSkipped adds to the skipped records counter.
func (m *Metrics) AddRecordsSkipped(l Labels, count float64) {
	m.RecordsSkipped.WithLabelValues(l.Network, l.Mode).Add(count)
}

// AddRecordsFailed adds to the failed records counter.
func (m *Metrics) AddRecordsFailed(l Labels, count float64) {
	m.RecordsFailed.WithLabelValues(l.Network, l.Mode).Add(count)
}

// IncBatchesProcessed increments the batches processed counter.
func (m *Metrics) IncBatchesProcessed(l Labels) {
	m.BatchesProcessed.WithLabelValues(l.Network, l.Mode).Inc()
}

// SetLastOffset sets the most recently checkpointed offset.
func (m *Metrics) SetLastOffset(l Labels, offset float64) {
	m.LastOffset.WithLabelValues(l.Network, l.Mode).Set(offset)
}

// ObserveSubmissionDuration records a single submission's duration.
func (m *Metrics) ObserveSubmissionDuration(l Labels, seconds float64) {
	m.SubmissionDuration.WithLabelValues(l.Network, l.Mode).Observe(seconds)
}

// ObserveBatchDuration records a whole batch's processing time.
func (m *Metrics) ObserveBatchDuration(l Labels, seconds float64) {
	m.BatchDuration.WithLabelValues(l.Network, l.Mode).Observe(seconds)
}

// SetInFlightSubmissions sets the number of in-flight submissions.
func (m *Metrics) SetInFlightSubmissions(count float64) {
	m.InFlightSubmissions.Set(count)
}

// IncSourceErrors increments the source errors counter.
func (m *Metrics) IncSourceErrors(l Labels) {
	m.SourceErrors.WithLabelValues(l.Network, l.SourceType).Inc()
}

// IncLedgerErrors increments the ledger errors counter.
func (m *Metrics) IncLedgerErrors(l Labels) {
	m.LedgerErrors.WithLabelValues(l.Network).Inc()
}

// IncTransportErrors increments the transport errors counter.
func (m *Metrics) IncTransportErrors(l Labels) {
	m.TransportErrors.WithLabelValues(l.Network, l.Mode).Inc()
}

// IncRetryAttempts increments the retry attempts counter.
func (m *Metrics) IncRetryAttempts(l Labels) {
	m.RetryAttempts.WithLabelValues(l.Network, l.Mode).Inc()
}

// SetRecordsPerSecond sets the current processing rate.
func (m *Metrics) SetRecordsPerSecond(rate float64) {
	m.RecordsPerSecond.Set(rate)
}
