// Package metrics exposes Prometheus collectors for model calls, pipeline
// runs, exports and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "statement_analyzer_"

	resultSuccess = "success"
	unknown       = "unknown"
)

var (
	registerOnce sync.Once

	modelCalls   *prometheus.CounterVec
	modelLatency *prometheus.HistogramVec

	periodOutcomes *prometheus.CounterVec

	pipelineRuns    *prometheus.CounterVec
	pipelineLatency *prometheus.HistogramVec

	exportTotal *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	jobsTotal *prometheus.CounterVec
)

// Init registers all collectors with the default registry. Safe to call
// more than once; collectors are only registered the first time.
func Init() {
	registerOnce.Do(func() {
		modelCalls = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "model_calls_total",
				Help: "Total model calls by stage and result",
			},
			[]string{"stage", "result"},
		)
		modelLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "model_call_latency_seconds",
				Help:    "Model call latency in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 90},
			},
			[]string{"stage"},
		)

		periodOutcomes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "period_outcomes_total",
				Help: "Aggregated periods by status",
			},
			[]string{"status"},
		)

		pipelineRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "pipeline_runs_total",
				Help: "Total pipeline runs by result",
			},
			[]string{"result"},
		)
		pipelineLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "pipeline_latency_seconds",
				Help:    "Pipeline run latency in seconds",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "exports_total",
				Help: "Total analysis exports by format and result",
			},
			[]string{"format", "result"},
		)

		httpRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "Total HTTP requests by method, route and status",
			},
			[]string{"method", "path", "status"},
		)
		httpLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_request_latency_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		)

		jobsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "jobs_total",
				Help: "Background jobs by final status",
			},
			[]string{"status"},
		)

		prometheus.MustRegister(
			modelCalls,
			modelLatency,
			periodOutcomes,
			pipelineRuns,
			pipelineLatency,
			exportTotal,
			httpRequests,
			httpLatency,
			jobsTotal,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveModelCall records one model call. It matches llm.Observer.
func ObserveModelCall(stage, result string, duration time.Duration) {
	if stage == "" {
		stage = unknown
	}
	if result == "" {
		result = resultSuccess
	}
	if modelCalls != nil {
		modelCalls.WithLabelValues(stage, result).Inc()
	}
	if modelLatency != nil {
		modelLatency.WithLabelValues(stage).Observe(duration.Seconds())
	}
}

// IncPeriodOutcome counts one aggregated period.
func IncPeriodOutcome(status string) {
	if status == "" {
		status = unknown
	}
	if periodOutcomes != nil {
		periodOutcomes.WithLabelValues(status).Inc()
	}
}

// ObservePipeline records a finished pipeline run.
func ObservePipeline(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if pipelineRuns != nil {
		pipelineRuns.WithLabelValues(result).Inc()
	}
	if pipelineLatency != nil {
		pipelineLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncExport counts one export attempt.
func IncExport(format, result string) {
	if format == "" {
		format = unknown
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
}

// ObserveHTTP records one served request. path should be the route pattern,
// not the raw URL, to keep label cardinality bounded.
func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if path == "" {
		path = unknown
	}
	if httpRequests != nil {
		httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	}
	if httpLatency != nil {
		httpLatency.WithLabelValues(method, path).Observe(duration.Seconds())
	}
}

// IncJob counts a job reaching a final status.
func IncJob(status string) {
	if status == "" {
		status = unknown
	}
	if jobsTotal != nil {
		jobsTotal.WithLabelValues(status).Inc()
	}
}
