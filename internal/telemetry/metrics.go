package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache event labels recorded per lookup outcome.
const (
	CacheHit      = "hit"
	CacheMiss     = "miss"
	CacheAdmitted = "admitted"
	CacheExpired  = "expired"
)

// Metrics holds all Prometheus metrics for the conduit orchestrator.
type Metrics struct {
	RequestTotal         *prometheus.CounterVec
	RequestDurationMs    *prometheus.HistogramVec
	CacheEventTotal      *prometheus.CounterVec
	GenerationTotal      *prometheus.CounterVec
	GenerationDurationMs *prometheus.HistogramVec
	TokensTotal          *prometheus.CounterVec
	ConversationsTotal   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_request_total",
			Help: "Total requests processed, by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),

		RequestDurationMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conduit_request_duration_ms",
			Help:    "End-to-end request duration in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"endpoint"}),

		CacheEventTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_cache_event_total",
			Help: "Cache lookup outcomes: hit, miss, admitted, expired.",
		}, []string{"endpoint", "event"}),

		GenerationTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_generation_total",
			Help: "Generator invocations by endpoint and status.",
		}, []string{"endpoint", "status"}),

		GenerationDurationMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conduit_generation_duration_ms",
			Help:    "Generator call duration in milliseconds.",
			Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"endpoint"}),

		TokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_tokens_total",
			Help: "Total tokens consumed by fresh generations.",
		}, []string{"endpoint", "direction"}),

		ConversationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_conversations_total",
			Help: "Conversations created, by endpoint.",
		}, []string{"endpoint"}),
	}
}

// RecordRequest records the outcome of one pipeline pass.
func (m *Metrics) RecordRequest(endpoint, outcome string, durationMs float64) {
	m.RequestTotal.WithLabelValues(endpoint, outcome).Inc()
	m.RequestDurationMs.WithLabelValues(endpoint).Observe(durationMs)
}

// RecordCacheEvent records a cache lookup outcome.
func (m *Metrics) RecordCacheEvent(endpoint, event string) {
	m.CacheEventTotal.WithLabelValues(endpoint, event).Inc()
}

// RecordGeneration records one generator invocation.
func (m *Metrics) RecordGeneration(endpoint, status string, durationMs float64, promptTokens, completionTokens int) {
	m.GenerationTotal.WithLabelValues(endpoint, status).Inc()
	m.GenerationDurationMs.WithLabelValues(endpoint).Observe(durationMs)
	if promptTokens > 0 {
		m.TokensTotal.WithLabelValues(endpoint, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.TokensTotal.WithLabelValues(endpoint, "completion").Add(float64(completionTokens))
	}
}

// RecordConversationCreated counts a freshly minted conversation id.
func (m *Metrics) RecordConversationCreated(endpoint string) {
	m.ConversationsTotal.WithLabelValues(endpoint).Inc()
}
