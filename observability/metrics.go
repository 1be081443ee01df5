package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OracleMetrics records fallback cascade activity for the price engine.
type OracleMetrics struct {
	resolutions    *prometheus.CounterVec
	sourceFailures *prometheus.CounterVec
	observations   *prometheus.CounterVec
	resolveLatency *prometheus.HistogramVec
}

var (
	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// Oracle returns the lazily-initialised metrics registry used to record price
// resolution activity.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "reef",
				Subsystem: "oracle",
				Name:      "resolutions_total",
				Help:      "Price resolutions segmented by pair, winning source kind and outcome.",
			}, []string{"pair", "kind", "outcome"}),
			sourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "reef",
				Subsystem: "oracle",
				Name:      "source_failures_total",
				Help:      "Per-source fetch failures swallowed by the fallback cascade.",
			}, []string{"pair", "kind"}),
			observations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "reef",
				Subsystem: "oracle",
				Name:      "observations_recorded_total",
				Help:      "TWAP observations appended by the recorder.",
			}, []string{"pair", "outcome"}),
			resolveLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "reef",
				Subsystem: "oracle",
				Name:      "resolve_duration_seconds",
				Help:      "Latency distribution for price resolutions.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"pair"}),
		}
		prometheus.MustRegister(
			oracleRegistry.resolutions,
			oracleRegistry.sourceFailures,
			oracleRegistry.observations,
			oracleRegistry.resolveLatency,
		)
	})
	return oracleRegistry
}

// ObserveResolution records the outcome and latency of one resolution call.
func (m *OracleMetrics) ObserveResolution(pair, kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(normaliseLabel(pair), normaliseLabel(kind), normaliseLabel(outcome)).Inc()
	m.resolveLatency.WithLabelValues(normaliseLabel(pair)).Observe(elapsed.Seconds())
}

// RecordSourceFailure counts a swallowed per-source failure.
func (m *OracleMetrics) RecordSourceFailure(pair, kind string) {
	if m == nil {
		return
	}
	m.sourceFailures.WithLabelValues(normaliseLabel(pair), normaliseLabel(kind)).Inc()
}

// RecordObservation counts a recorder append.
func (m *OracleMetrics) RecordObservation(pair, outcome string) {
	if m == nil {
		return
	}
	m.observations.WithLabelValues(normaliseLabel(pair), normaliseLabel(outcome)).Inc()
}

func normaliseLabel(value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
