package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DatastoreMetrics contains Prometheus metrics for event archive operations
type DatastoreMetrics struct {
	dbOperationsTotal   *prometheus.CounterVec
	dbOperationDuration *prometheus.HistogramVec
	dbRowsWrittenTotal  *prometheus.CounterVec

	collectors []prometheus.Collector
}

// NewDatastoreMetrics creates datastore metrics and registers them with registry.
func NewDatastoreMetrics(registry *prometheus.Registry) (*DatastoreMetrics, error) {
	m := &DatastoreMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register datastore metrics: %w", err)
	}
	return m, nil
}

func (m *DatastoreMetrics) initMetrics() {
	m.dbOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "datastore_operations_total",
		Help: "Total number of datastore operations",
	}, []string{"operation", "status"})
	m.dbOperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "datastore_operation_duration_seconds",
		Help:    "Duration of datastore operations",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"operation"})
	m.dbRowsWrittenTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "datastore_rows_written_total",
		Help: "Rows inserted into the event archive by table",
	}, []string{"table"})

	m.collectors = []prometheus.Collector{
		m.dbOperationsTotal,
		m.dbOperationDuration,
		m.dbRowsWrittenTotal,
	}
}

// Describe implements the prometheus.Collector interface.
func (m *DatastoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *DatastoreMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// RecordDbOperation counts an operation with its status
func (m *DatastoreMetrics) RecordDbOperation(operation, status string) {
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDbOperationDuration records the duration of an operation in seconds
func (m *DatastoreMetrics) RecordDbOperationDuration(operation string, duration float64) {
	m.dbOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordRowsWritten counts inserted rows
func (m *DatastoreMetrics) RecordRowsWritten(table string, n int) {
	m.dbRowsWrittenTotal.WithLabelValues(table).Add(float64(n))
}
