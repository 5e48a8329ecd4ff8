package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the quoter's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	quoteAttempts   *prometheus.CounterVec
	quoteLatency    *prometheus.HistogramVec
	quoteRetries    prometheus.Counter
	requests        *prometheus.CounterVec
	requestDuration prometheus.Histogram
	tokenLookups    *prometheus.CounterVec
	catalogLookups  *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		quoteAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "swapscope_quote_attempts_total",
			Help: "Quote attempts by protocol and outcome",
		}, []string{"protocol", "outcome"}),
		quoteLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "swapscope_quote_attempt_duration_seconds",
			Help:    "Per-attempt quote latency in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"protocol"}),
		quoteRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "swapscope_quote_retries_total",
			Help: "Quote attempts retried after a transport error",
		}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "swapscope_best_quote_requests_total",
			Help: "Best-quote requests by status",
		}, []string{"status"}),
		requestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "swapscope_best_quote_duration_seconds",
			Help:    "Best-quote request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		tokenLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "swapscope_token_lookups_total",
			Help: "Token registry lookups by result",
		}, []string{"result"}),
		catalogLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "swapscope_catalog_lookups_total",
			Help: "Pool catalog factory lookups by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) ObserveAttempt(protocol, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.quoteAttempts.WithLabelValues(protocol, outcome).Inc()
	m.quoteLatency.WithLabelValues(protocol).Observe(took.Seconds())
}

func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.quoteRetries.Inc()
}

func (m *Metrics) ObserveRequest(status string, took time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(status).Inc()
	m.requestDuration.Observe(took.Seconds())
}

func (m *Metrics) TokenLookup(result string) {
	if m == nil {
		return
	}
	m.tokenLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) CatalogLookup(result string) {
	if m == nil {
		return
	}
	m.catalogLookups.WithLabelValues(result).Inc()
}
