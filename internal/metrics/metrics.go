package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the delivery pipeline instruments. A single instance is
// created in main and shared by the dispatcher and scheduler.
type Metrics struct {
	AttemptsTotal   *prometheus.CounterVec
	DeliveriesTotal *prometheus.CounterVec
	AttemptDuration prometheus.Histogram
	QueueDepth      prometheus.Gauge
	RetriesSwept    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_delivery_attempts_total",
			Help: "Delivery attempts by outcome (success, retry, failure).",
		}, []string{"outcome"}),
		DeliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Deliveries reaching a terminal state, by status.",
		}, []string{"status"}),
		AttemptDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "webhook_delivery_attempt_duration_seconds",
			Help:    "Wall-clock duration of delivery HTTP attempts.",
			Buckets: prometheus.DefBuckets,
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "webhook_delivery_queue_depth",
			Help: "Jobs currently waiting in the dispatch queue.",
		}),
		RetriesSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "webhook_retries_swept_total",
			Help: "RETRY_SCHEDULED deliveries claimed by the sweeper.",
		}),
	}
}
