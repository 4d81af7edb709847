// Package jobmetrics instruments the retention jobs run by the worker.
package jobmetrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Job outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// PruneFunc performs one retention pass and reports how many rows it removed.
type PruneFunc func(ctx context.Context) (int64, error)

// Metrics counts job runs, their duration and the rows they removed.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	pruned   *prometheus.CounterVec
}

// NewMetrics registers the job collectors on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_jobs_total",
			Help: "Job executions by job name and outcome.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_jobs_failures_total",
			Help: "Failed job executions.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "admin_job_duration_seconds",
			Help:    "Job execution time in seconds.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"job"}),
		pruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_jobs_pruned_rows_total",
			Help: "Rows removed by retention jobs.",
		}, []string{"job"}),
	}
	if registerer != nil {
		registerer.MustRegister(m.runs, m.failures, m.duration, m.pruned)
	}
	return m
}

// Prune runs fn as one execution of job. The outcome, elapsed time and
// removed row count are recorded before fn's result is handed back. A nil
// receiver just runs fn.
func (m *Metrics) Prune(ctx context.Context, job string, fn PruneFunc) (int64, error) {
	start := time.Now()
	rows, err := fn(ctx)
	if m == nil {
		return rows, err
	}

	m.duration.WithLabelValues(job).Observe(time.Since(start).Seconds())
	if err != nil {
		m.failures.WithLabelValues(job).Inc()
		m.runs.WithLabelValues(job, OutcomeFailure).Inc()
		return rows, err
	}
	m.runs.WithLabelValues(job, OutcomeSuccess).Inc()
	if rows > 0 {
		m.pruned.WithLabelValues(job).Add(float64(rows))
	}
	return rows, nil
}
