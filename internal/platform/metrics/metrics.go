package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	EventsSubmitted  prometheus.Counter
	EventsReleased   prometheus.Counter
	EventsBlocked    *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	EpsilonSpent     prometheus.Counter
	EpsilonRemaining prometheus.Gauge
	BucketFlushes    prometheus.Counter
	BucketExpiries   prometheus.Counter
	ActiveBuckets    prometheus.Gauge
	ProcessLatency   prometheus.Histogram
	Shutdowns        prometheus.Counter
}

// New creates and registers all pipeline metrics on the given registerer.
// Passing a fresh registry keeps tests isolated.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "veil_events_submitted_total",
			Help: "Raw events accepted from the instrumentation layer.",
		}),
		EventsReleased: factory.NewCounter(prometheus.CounterOpts{
			Name: "veil_events_released_total",
			Help: "Anonymized events handed to the transport collaborator.",
		}),
		EventsBlocked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "veil_events_blocked_total",
			Help: "Events blocked by the guarantee checker, by reason.",
		}, []string{"reason"}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "veil_events_dropped_total",
			Help: "Events dropped before release, by cause.",
		}, []string{"cause"}),
		EpsilonSpent: factory.NewCounter(prometheus.CounterOpts{
			Name: "veil_epsilon_spent_total",
			Help: "Cumulative privacy budget allocated.",
		}),
		EpsilonRemaining: factory.NewGauge(prometheus.GaugeOpts{
			Name: "veil_epsilon_remaining",
			Help: "Remaining lifetime privacy budget.",
		}),
		BucketFlushes: factory.NewCounter(prometheus.CounterOpts{
			Name: "veil_bucket_flushes_total",
			Help: "Buckets that reached k and released their buffer.",
		}),
		BucketExpiries: factory.NewCounter(prometheus.CounterOpts{
			Name: "veil_bucket_expiries_total",
			Help: "Buckets discarded on timeout with their buffers destroyed.",
		}),
		ActiveBuckets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "veil_active_buckets",
			Help: "Buckets currently accumulating.",
		}),
		ProcessLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "veil_process_latency_seconds",
			Help:    "Per-event processing latency inside the pipeline.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		Shutdowns: factory.NewCounter(prometheus.CounterOpts{
			Name: "veil_emergency_shutdowns_total",
			Help: "Emergency shutdowns performed by the incident detector.",
		}),
	}
}
