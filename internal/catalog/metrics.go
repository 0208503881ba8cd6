package catalog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks catalog operation throughput, latency and busy-retries.
type Metrics struct {
	OperationsTotal  *prometheus.CounterVec
	OperationSeconds *prometheus.HistogramVec
	BusyRetriesTotal prometheus.Counter
}

// NewMetrics registers the catalog metrics under namespace/subsystem
// "catalog", mirroring the teacher's storage-layer metric construction.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		OperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "operations_total",
			Help:      "Total catalog operations by name and outcome",
		}, []string{"operation", "status"}),
		OperationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "operation_duration_seconds",
			Help:      "Catalog operation latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"operation"}),
		BusyRetriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "busy_retries_total",
			Help:      "Total number of SQLITE_BUSY retries across all operations",
		}),
	}
}
