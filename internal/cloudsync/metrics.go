package cloudsync

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the sync engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	CollectionStatus  *prometheus.GaugeVec
	QueueDepth        prometheus.Gauge
	ObserverDrops     prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		OperationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cloudsync",
				Name:      "operations_total",
				Help:      "Total sync operations by collection, direction and result",
			},
			[]string{"collection", "op", "result"}, // op=upload/download, result=success/error
		),
		OperationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "cloudsync",
				Name:      "operation_duration_seconds",
				Help:      "Sync operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"collection", "op"},
		),
		CollectionStatus: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "cloudsync",
				Name:      "collection_status",
				Help:      "Current status per collection (0=disabled 1=idle 2=syncing 3=success 4=error)",
			},
			[]string{"collection"},
		),
		QueueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "cloudsync",
				Name:      "queue_depth",
				Help:      "Number of sync tasks waiting for the worker",
			},
		),
		ObserverDrops: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "cloudsync",
				Name:      "observer_drops_total",
				Help:      "Status events dropped because a subscriber was not keeping up",
			},
		),
	}
}

func (m *Metrics) observeOperation(c Collection, op string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}

	result := "success"
	if !ok {
		result = "error"
	}

	m.OperationsTotal.WithLabelValues(c.String(), op, result).Inc()
	m.OperationDuration.WithLabelValues(c.String(), op).Observe(elapsed.Seconds())
}

func (m *Metrics) setStatus(c Collection, s Status) {
	if m == nil {
		return
	}

	m.CollectionStatus.WithLabelValues(c.String()).Set(float64(s))
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}

	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) observerDropped() {
	if m == nil {
		return
	}

	m.ObserverDrops.Inc()
}
