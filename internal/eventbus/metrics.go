package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks bus throughput and the two drop policies from §4.3.
type Metrics struct {
	SubscribersActive prometheus.Gauge
	EventsPublished    *prometheus.CounterVec
	EventsDroppedOldest *prometheus.CounterVec
	SubscribersDetached *prometheus.CounterVec
	BroadcastSeconds    prometheus.Histogram
}

// NewMetrics registers the eventbus metrics under namespace/subsystem
// "eventbus", mirroring the teacher's RealtimeMetrics construction.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		SubscribersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "subscribers_active",
			Help:      "Current number of active event subscribers",
		}),
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "events_published_total",
			Help:      "Total number of events published, by topic",
		}, []string{"topic"}),
		EventsDroppedOldest: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "events_dropped_oldest_total",
			Help:      "Total number of oldest-buffered events evicted for drop-oldest topics",
		}, []string{"topic"}),
		SubscribersDetached: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "subscribers_detached_total",
			Help:      "Total number of subscribers detached after exceeding the consecutive-drop budget",
		}, []string{"topic"}),
		BroadcastSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "broadcast_duration_seconds",
			Help:      "Duration of one event's fan-out across subscribers",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 10),
		}),
	}
}
