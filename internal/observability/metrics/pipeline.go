package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/pricewatch/internal/core/domain"
)

// PipelineMetrics implements ports.PipelineObserver and also counts
// retries and cycles of the worker process.
type PipelineMetrics struct {
	service  string
	registry *prometheus.Registry

	collectionsTotal   *prometheus.CounterVec
	recordsTotal       *prometheus.CounterVec
	collectionDuration *prometheus.HistogramVec
	tagDecisionsTotal  *prometheus.CounterVec
	retriesTotal       *prometheus.CounterVec
	cyclesTotal        *prometheus.CounterVec
	cycleDuration      *prometheus.HistogramVec
	cycleInFlight      prometheus.Gauge
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()

	collectionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricewatch",
			Subsystem: "loader",
			Name:      "collections_total",
			Help:      "Staging collections handled by the loader, by resulting state.",
		},
		[]string{"service", "state"},
	)
	recordsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricewatch",
			Subsystem: "loader",
			Name:      "records_total",
			Help:      "Staged records by outcome.",
		},
		[]string{"service", "outcome"},
	)
	collectionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pricewatch",
			Subsystem: "loader",
			Name:      "collection_duration_seconds",
			Help:      "Time spent loading one collection, by resulting state.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "state"},
	)
	tagDecisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricewatch",
			Subsystem: "tagger",
			Name:      "decisions_total",
			Help:      "Tagging decisions by outcome.",
		},
		[]string{"service", "outcome"},
	)
	retriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricewatch",
			Subsystem: "resilience",
			Name:      "retries_total",
			Help:      "Retries performed by the resilience executor, by operation.",
		},
		[]string{"service", "operation"},
	)
	cyclesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricewatch",
			Subsystem: "worker",
			Name:      "cycles_total",
			Help:      "Load and tag cycles by trigger and status.",
		},
		[]string{"service", "trigger", "status"},
	)
	cycleDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pricewatch",
			Subsystem: "worker",
			Name:      "cycle_duration_seconds",
			Help:      "Load and tag cycle duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	cycleInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pricewatch",
			Subsystem: "worker",
			Name:      "cycle_in_flight",
			Help:      "Whether a cycle is currently running.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(
		collectionsTotal,
		recordsTotal,
		collectionDuration,
		tagDecisionsTotal,
		retriesTotal,
		cyclesTotal,
		cycleDuration,
		cycleInFlight,
	)

	return &PipelineMetrics{
		service:            service,
		registry:           registry,
		collectionsTotal:   collectionsTotal,
		recordsTotal:       recordsTotal,
		collectionDuration: collectionDuration,
		tagDecisionsTotal:  tagDecisionsTotal,
		retriesTotal:       retriesTotal,
		cyclesTotal:        cyclesTotal,
		cycleDuration:      cycleDuration,
		cycleInFlight:      cycleInFlight,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PipelineMetrics) ObserveCollection(result domain.CollectionResult) {
	state := string(result.State)
	m.collectionsTotal.WithLabelValues(m.service, state).Inc()
	m.collectionDuration.WithLabelValues(m.service, state).Observe(result.Duration.Seconds())

	m.addRecords("inserted", result.Inserted)
	m.addRecords("duplicate", result.Duplicates)
	m.addRecords("rejected", result.RejectedCount)
}

func (m *PipelineMetrics) addRecords(outcome string, n int) {
	if n <= 0 {
		return
	}
	m.recordsTotal.WithLabelValues(m.service, outcome).Add(float64(n))
}

func (m *PipelineMetrics) ObserveTagging(summary domain.TagSummary) {
	if summary.Assigned > 0 {
		m.tagDecisionsTotal.WithLabelValues(m.service, string(domain.TagOutcomeAssigned)).Add(float64(summary.Assigned))
	}
	if n := len(summary.Ambiguous); n > 0 {
		m.tagDecisionsTotal.WithLabelValues(m.service, string(domain.TagOutcomeAmbiguous)).Add(float64(n))
	}
	if summary.Unmatched > 0 {
		m.tagDecisionsTotal.WithLabelValues(m.service, string(domain.TagOutcomeUnmatched)).Add(float64(summary.Unmatched))
	}
}

// ObserveRetry matches resilience.RetryHook.
func (m *PipelineMetrics) ObserveRetry(operation string, _ int, _ error) {
	m.retriesTotal.WithLabelValues(m.service, operation).Inc()
}

func (m *PipelineMetrics) StartCycle() {
	m.cycleInFlight.Inc()
}

func (m *PipelineMetrics) FinishCycle(trigger string, duration time.Duration, err error) {
	m.cycleInFlight.Dec()

	status := "success"
	switch {
	case domain.IsKind(err, domain.ErrLoaderBusy):
		status = "busy"
	case err != nil:
		status = "error"
	}

	m.cyclesTotal.WithLabelValues(m.service, trigger, status).Inc()
	m.cycleDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
}
