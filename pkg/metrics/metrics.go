// Package metrics exposes Prometheus collectors for model calls and the
// response cache.
package metrics

import (
	"time"

	"github.com/homer-bot/homerbot/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "homerbot"

// Cache lookup outcomes.
const (
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheBypass = "bypass"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	ttft         *prometheus.HistogramVec
	tokens       *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total LLM calls by model and outcome.",
		}, []string{"model", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Wall-clock duration of LLM calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"model"}),
		ttft: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_time_to_first_token_seconds",
			Help:      "Time from call start to the first streamed content fragment.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		}, []string{"model"}),
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Provider-reported tokens by model and type.",
		}, []string{"model", "type"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result.",
		}, []string{"result"}),
	}
}

// ObserveCall records one finished model call.
func (m *Metrics) ObserveCall(model string, res models.CompletionResult, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.requests.WithLabelValues(model, status).Inc()
	m.duration.WithLabelValues(model).Observe((time.Duration(res.DurationMs) * time.Millisecond).Seconds())
	if res.TimeToFirstToken != nil {
		m.ttft.WithLabelValues(model).Observe(*res.TimeToFirstToken)
	}
	if p := res.Usage.PromptTokens; p != nil {
		m.tokens.WithLabelValues(model, "prompt").Add(float64(*p))
	}
	if c := res.Usage.CompletionTokens; c != nil {
		m.tokens.WithLabelValues(model, "completion").Add(float64(*c))
	}
}

// ObserveCacheLookup records a cache lookup outcome.
func (m *Metrics) ObserveCacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
