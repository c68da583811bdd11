package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus instruments. One instance is
// created at startup and shared by the orchestrator and handlers.
type Metrics struct {
	ExtractionsSubmitted *prometheus.CounterVec
	ExtractionsCompleted *prometheus.CounterVec
	ExtractionsBlocked   prometheus.Counter
	HealingActions       prometheus.Counter
	TransientRetries     prometheus.Counter

	ActiveExtractions  prometheus.Gauge
	QueueDepth         prometheus.Gauge
	ExtractionDuration *prometheus.HistogramVec
}

// New registers the engine metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ExtractionsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "extract_engine_extractions_submitted_total",
			Help: "Extractions accepted for execution, by source type.",
		}, []string{"source_type"}),
		ExtractionsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "extract_engine_extractions_completed_total",
			Help: "Extractions reaching a terminal state, by source type and status.",
		}, []string{"source_type", "status"}),
		ExtractionsBlocked: factory.NewCounter(prometheus.CounterOpts{
			Name: "extract_engine_extractions_blocked_total",
			Help: "Submissions rejected for unsatisfied required dependencies.",
		}),
		HealingActions: factory.NewCounter(prometheus.CounterOpts{
			Name: "extract_engine_healing_actions_total",
			Help: "Healing actions applied to failed extractions.",
		}),
		TransientRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "extract_engine_transient_retries_total",
			Help: "In-process retry attempts after transient errors.",
		}),
		ActiveExtractions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "extract_engine_active_extractions",
			Help: "Extractions currently running on worker slots.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "extract_engine_queue_depth",
			Help: "Extractions waiting for a worker slot.",
		}),
		ExtractionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "extract_engine_extraction_duration_seconds",
			Help:    "Wall-clock duration of completed extractions.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"source_type", "status"}),
	}
}
