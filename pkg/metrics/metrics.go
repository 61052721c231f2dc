// Package metrics provides Prometheus metrics for ingestion runs and queries.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all Prometheus metrics exported by catvault. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	RunsTotal    *prometheus.CounterVec
	RunDuration  prometheus.Histogram
	RecordsAdded prometheus.Counter
	LabelsAdded  prometheus.Counter
	Skipped      prometheus.Counter
	Violations   prometheus.Counter
	QueriesTotal *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with registry.
func NewMetrics(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catvault_ingest_runs_total",
			Help: "Total number of ingestion runs by final status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "catvault_ingest_run_duration_seconds",
			Help:    "Duration of ingestion runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		RecordsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catvault_ingest_records_added_total",
			Help: "Total number of image records inserted.",
		}),
		LabelsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catvault_ingest_labels_added_total",
			Help: "Total number of labels inserted.",
		}),
		Skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catvault_ingest_duplicates_skipped_total",
			Help: "Total number of fetched items skipped as duplicates.",
		}),
		Violations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catvault_ingest_field_violations_total",
			Help: "Total number of field violations on fetched items.",
		}),
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catvault_queries_total",
			Help: "Total number of record queries by outcome.",
		}, []string{"outcome"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register catvault metrics: %w", err)
	}
	return m, nil
}

// ObserveRun records the outcome of one ingestion run.
func (m *Metrics) ObserveRun(status string, d time.Duration, recordsAdded, labelsAdded, skipped, violations int) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(d.Seconds())
	m.RecordsAdded.Add(float64(recordsAdded))
	m.LabelsAdded.Add(float64(labelsAdded))
	m.Skipped.Add(float64(skipped))
	m.Violations.Add(float64(violations))
}

// ObserveQuery counts one query by outcome (ok, invalid, error).
func (m *Metrics) ObserveQuery(outcome string) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(outcome).Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.RunsTotal.Collect(ch)
	ch <- m.RunDuration
	ch <- m.RecordsAdded
	ch <- m.LabelsAdded
	ch <- m.Skipped
	ch <- m.Violations
	m.QueriesTotal.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.RunsTotal.Describe(ch)
	ch <- m.RunDuration.Desc()
	ch <- m.RecordsAdded.Desc()
	ch <- m.LabelsAdded.Desc()
	ch <- m.Skipped.Desc()
	ch <- m.Violations.Desc()
	m.QueriesTotal.Describe(ch)
}
