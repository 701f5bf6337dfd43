package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics — Prometheus метрики pipeline.
//
// CLI записывает их в textfile для node_exporter,
// foldflow-worker отдаёт на /metrics.
type Metrics struct {
	registry *prometheus.Registry

	StageDuration  *prometheus.HistogramVec
	JobStates      *prometheus.CounterVec
	Placeholders   *prometheus.CounterVec
	BranchFailures *prometheus.CounterVec
	Runs           *prometheus.CounterVec
}

// NewMetrics создаёт метрики в собственном registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "foldflow",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"stage", "status"}),
		JobStates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foldflow",
			Name:      "jobs_total",
			Help:      "Batch jobs by terminal state.",
		}, []string{"backend", "state"}),
		Placeholders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foldflow",
			Name:      "placeholders_total",
			Help:      "Placeholder artifacts written for unavailable optional tools.",
		}, []string{"stage"}),
		BranchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foldflow",
			Name:      "branch_failures_total",
			Help:      "Failed fan-out branches.",
		}, []string{"stage"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foldflow",
			Name:      "runs_total",
			Help:      "Pipeline runs by final status.",
		}, []string{"mode", "status"}),
	}

	m.registry.MustRegister(m.StageDuration, m.JobStates, m.Placeholders, m.BranchFailures, m.Runs)
	return m
}

// Registry возвращает registry для promhttp.HandlerFor.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage записывает длительность стадии.
func (m *Metrics) ObserveStage(stage, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

// CountJob увеличивает счётчик jobs в финальном состоянии.
func (m *Metrics) CountJob(backend, state string) {
	if m == nil {
		return
	}
	m.JobStates.WithLabelValues(backend, state).Inc()
}

// CountPlaceholder увеличивает счётчик placeholder.
func (m *Metrics) CountPlaceholder(stage string) {
	if m == nil {
		return
	}
	m.Placeholders.WithLabelValues(stage).Inc()
}

// CountBranchFailures добавляет упавшие ветки.
func (m *Metrics) CountBranchFailures(stage string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.BranchFailures.WithLabelValues(stage).Add(float64(n))
}

// CountRun увеличивает счётчик завершённых run.
func (m *Metrics) CountRun(mode, status string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(mode, status).Inc()
}

// WriteTextfile сохраняет метрики в формате textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
