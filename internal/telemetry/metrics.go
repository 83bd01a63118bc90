// Package telemetry exposes Prometheus metrics for the intake server
// and the worker. Metrics are registered on a dedicated registry so
// tests can build isolated instances.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every instrument the pipeline records.
type Metrics struct {
	Registry *prometheus.Registry

	// JobsSubmitted counts accepted label uploads.
	JobsSubmitted prometheus.Counter
	// JobsCompleted counts jobs that produced a verification result.
	JobsCompleted prometheus.Counter
	// JobsFailed counts jobs that exhausted their retry budget.
	JobsFailed prometheus.Counter
	// JobRetries counts individual retry attempts.
	JobRetries prometheus.Counter

	// ProcessingSeconds observes end-to-end worker processing time.
	ProcessingSeconds prometheus.Histogram

	// QueueDepth gauges the pending queue length, sampled by the worker.
	QueueDepth prometheus.Gauge
}

// New builds a metric set on a fresh registry, including the standard
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "verification_jobs_total",
			Help: "Label verification jobs accepted by intake.",
		}),
		JobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "verification_jobs_completed_total",
			Help: "Jobs that finished with a verification result.",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "verification_jobs_failed_total",
			Help: "Jobs that failed after exhausting retries.",
		}),
		JobRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "verification_job_retries_total",
			Help: "Individual job retry attempts.",
		}),
		ProcessingSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "verification_processing_seconds",
			Help:    "End-to-end worker processing time per job.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "verification_queue_depth",
			Help: "Pending jobs on the verification queue.",
		}),
	}
}
