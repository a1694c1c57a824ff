package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the pool manager exports. Constructed once at
// startup and passed by reference; a nil *Metrics disables recording so unit
// tests do not need a registry.
type Metrics struct {
	ClaimsTotal   *prometheus.CounterVec
	ClaimDuration *prometheus.HistogramVec
	TickDuration  prometheus.Histogram
	PoolSize      *prometheus.GaugeVec
	ProviderCalls *prometheus.CounterVec
	InstancesTorn prometheus.Counter
}

// New registers all collectors with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ClaimsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentpool",
			Name:      "claims_total",
			Help:      "Claim attempts by outcome (claimed, empty, released, crashed, error).",
		}, []string{"outcome"}),
		ClaimDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentpool",
			Name:      "claim_duration_seconds",
			Help:      "Duration of claim attempts by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"outcome"}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentpool",
			Name:      "tick_duration_seconds",
			Help:      "Duration of reconciliation ticks.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		PoolSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "agentpool",
			Name:      "pool_size",
			Help:      "Instances per pool status, refreshed every tick.",
		}, []string{"status"}),
		ProviderCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentpool",
			Name:      "provider_calls_total",
			Help:      "Resource provider create/destroy calls by kind and outcome.",
		}, []string{"kind", "operation", "outcome"}),
		InstancesTorn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "agentpool",
			Name:      "instances_torn_down_total",
			Help:      "Instances fully torn down, by any path.",
		}),
	}
}

// RecordClaim records one claim attempt outcome with its duration in seconds.
func (m *Metrics) RecordClaim(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ClaimsTotal.WithLabelValues(outcome).Inc()
	m.ClaimDuration.WithLabelValues(outcome).Observe(seconds)
}

// RecordTick records one reconciliation tick duration in seconds.
func (m *Metrics) RecordTick(seconds float64) {
	if m == nil {
		return
	}
	m.TickDuration.Observe(seconds)
}

// SetPoolSize refreshes the per-status pool gauge.
func (m *Metrics) SetPoolSize(status string, count int) {
	if m == nil {
		return
	}
	m.PoolSize.WithLabelValues(status).Set(float64(count))
}

// RecordProviderCall records one resource provider call.
func (m *Metrics) RecordProviderCall(kind, operation, outcome string) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(kind, operation, outcome).Inc()
}

// RecordTeardown counts one completed instance teardown.
func (m *Metrics) RecordTeardown() {
	if m == nil {
		return
	}
	m.InstancesTorn.Inc()
}
