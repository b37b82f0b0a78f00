package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce         sync.Once
	httpRequestsTotal    *prometheus.CounterVec
	httpLatencySeconds   *prometheus.HistogramVec
	httpErrorsTotal      *prometheus.CounterVec
	recoveryTierTotal    *prometheus.CounterVec
	recoveryFailureTotal *prometheus.CounterVec
	analysesTotal        *prometheus.CounterVec
	analysisSeconds      *prometheus.HistogramVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toser_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "toser_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 15.0, 60.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toser_http_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		recoveryTierTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toser_recovery_tier_total",
			Help: "Recovery tier attempts by outcome.",
		}, []string{"tier", "outcome"})

		recoveryFailureTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toser_recovery_failures_total",
			Help: "Analyses that ended in a failure record, by kind.",
		}, []string{"kind"})

		analysesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toser_analyses_total",
			Help: "Analysis requests by result.",
		}, []string{"result"})

		analysisSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "toser_analysis_duration_seconds",
			Help:    "End-to-end analysis duration including fetch and model call.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"provider"})

		prometheus.MustRegister(
			httpRequestsTotal, httpLatencySeconds, httpErrorsTotal,
			recoveryTierTotal, recoveryFailureTotal, analysesTotal, analysisSeconds,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// RecoveryTiers counts recovery tier attempts.
func RecoveryTiers() *prometheus.CounterVec {
	RegisterMetrics()
	return recoveryTierTotal
}

// RecoveryFailures counts failure records by kind.
func RecoveryFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return recoveryFailureTotal
}

// Analyses counts analysis requests by result (completed, failed, cached, error).
func Analyses() *prometheus.CounterVec {
	RegisterMetrics()
	return analysesTotal
}

// AnalysisDuration exposes the end-to-end analysis histogram.
func AnalysisDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return analysisSeconds
}
