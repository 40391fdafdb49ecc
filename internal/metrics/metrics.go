package metrics

import (
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

const namespace = "zombiecoder"

// Outcome label values shared by the engine components.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeCached  = "cached"
	OutcomeTimeout = "timeout"
	OutcomeDenied  = "denied"
	OutcomeEmpty   = "empty"
)

// Metrics holds the process metrics. It is constructed once at start-up and
// injected into every component; there is no package-level instance.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal    *prometheus.CounterVec
	TurnDuration  *prometheus.HistogramVec
	ProviderCalls *prometheus.CounterVec
	ProviderLat   *prometheus.HistogramVec
	ProviderState *prometheus.GaugeVec

	CacheRequests *prometheus.CounterVec

	ToolInvocations *prometheus.CounterVec
	ToolDuration    *prometheus.HistogramVec

	RetrievalRequests *prometheus.CounterVec

	SessionsActive prometheus.Gauge
}

// NewMetrics creates and registers all metrics on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Conversation turns by agent, answering provider and outcome",
			},
			[]string{"agent_id", "provider_id", "outcome"},
		),
		TurnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "turn_duration_seconds",
				Help:      "Duration of conversation turns in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"agent_id", "provider_id", "outcome"},
		),
		ProviderCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Provider adapter calls by agent, provider and outcome",
			},
			[]string{"agent_id", "provider_id", "outcome"},
		),
		ProviderLat: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Provider adapter call latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider_id"},
		),
		ProviderState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "provider_health",
				Help:      "Provider health state (0 healthy, 1 degraded, 2 unavailable)",
			},
			[]string{"provider_id"},
		),
		CacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_requests_total",
				Help:      "Response cache lookups by result (hit, miss, shared, error)",
			},
			[]string{"result"},
		),
		ToolInvocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_invocations_total",
				Help:      "Tool invocations by tool and outcome",
			},
			[]string{"tool_id", "outcome"},
		),
		ToolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_duration_seconds",
				Help:      "Tool execution duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool_id"},
		),
		RetrievalRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retrieval_requests_total",
				Help:      "Retrieval pipeline requests by outcome",
			},
			[]string{"outcome"},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Number of live sessions",
			},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(
		m.TurnsTotal,
		m.TurnDuration,
		m.ProviderCalls,
		m.ProviderLat,
		m.ProviderState,
		m.CacheRequests,
		m.ToolInvocations,
		m.ToolDuration,
		m.RetrievalRequests,
		m.SessionsActive,
	)
}

// RecordTurn records a finished conversation turn.
func (m *Metrics) RecordTurn(agentID, providerID, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	if providerID == "" {
		providerID = "none"
	}
	m.TurnsTotal.WithLabelValues(agentID, providerID, outcome).Inc()
	m.TurnDuration.WithLabelValues(agentID, providerID, outcome).Observe(d.Seconds())
}

// RecordProviderCall records one adapter call made on behalf of an agent.
func (m *Metrics) RecordProviderCall(agentID, providerID, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(agentID, providerID, outcome).Inc()
	m.ProviderLat.WithLabelValues(providerID).Observe(d.Seconds())
}

// SetProviderHealth publishes a provider's health state.
func (m *Metrics) SetProviderHealth(providerID string, state float64) {
	if m == nil {
		return
	}
	m.ProviderState.WithLabelValues(providerID).Set(state)
}

// RecordCache records a cache lookup result.
func (m *Metrics) RecordCache(result string) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

// RecordToolInvocation records a tool invocation.
func (m *Metrics) RecordToolInvocation(toolID, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolInvocations.WithLabelValues(toolID, outcome).Inc()
	m.ToolDuration.WithLabelValues(toolID).Observe(d.Seconds())
}

// RecordRetrieval records a retrieval request outcome.
func (m *Metrics) RecordRetrieval(outcome string) {
	if m == nil {
		return
	}
	m.RetrievalRequests.WithLabelValues(outcome).Inc()
}

// SetActiveSessions publishes the live session count.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(n))
}

// Reset clears every series. It is an operator action and is never called by request handling.
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.TurnsTotal.Reset()
	m.TurnDuration.Reset()
	m.ProviderCalls.Reset()
	m.ProviderLat.Reset()
	m.ProviderState.Reset()
	m.CacheRequests.Reset()
	m.ToolInvocations.Reset()
	m.ToolDuration.Reset()
	m.RetrievalRequests.Reset()
	m.SessionsActive.Set(0)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// WriteText writes every metric family in the Prometheus text format.
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
