package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application. Every method is
// safe to call on a nil receiver so services can run without instrumentation.
type Metrics struct {
	AccessDecisions    *prometheus.CounterVec
	ConsentAppends     *prometheus.CounterVec
	UsageAppends       prometheus.Counter
	UsageFailures      *prometheus.CounterVec
	AttributionEvents  *prometheus.CounterVec
	SignalCalcDuration prometheus.Histogram
	SignalCache        *prometheus.CounterVec
	PortfolioSize      prometheus.Histogram
	HTTPLatency        *prometheus.HistogramVec
	RateLimitDecisions *prometheus.CounterVec
	RateLimitFallbacks prometheus.Counter
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AccessDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alma_access_decisions_total",
			Help: "Access evaluator decisions by matched rule and outcome",
		}, []string{"rule", "outcome"}),
		ConsentAppends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alma_consent_ledger_appends_total",
			Help: "Consent ledger entries appended, by tier",
		}, []string{"tier"}),
		UsageAppends: f.NewCounter(prometheus.CounterOpts{
			Name: "alma_usage_appends_total",
			Help: "Usage log entries appended",
		}),
		UsageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alma_usage_failures_total",
			Help: "Usage log failures swallowed to protect callers",
		}, []string{"stage"}),
		AttributionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alma_attribution_events_total",
			Help: "Attribution events handed to the publisher",
		}, []string{"result"}),
		SignalCalcDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "alma_signal_calculation_seconds",
			Help:    "Time to compute signals for a candidate set",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		SignalCache: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alma_signal_cache_total",
			Help: "Signal cache lookups by result",
		}, []string{"result"}),
		PortfolioSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "alma_portfolio_selection_size",
			Help:    "Number of interventions selected per construction",
			Buckets: prometheus.LinearBuckets(0, 5, 10),
		}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "alma_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		RateLimitDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alma_ratelimit_decisions_total",
			Help: "Rate limit checks by endpoint class and outcome",
		}, []string{"class", "outcome"}),
		RateLimitFallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "alma_ratelimit_fallback_total",
			Help: "Rate limit checks served by the in-memory fallback",
		}),
	}
}

func (m *Metrics) RecordAccessDecision(rule string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	m.AccessDecisions.WithLabelValues(rule, outcome).Inc()
}

func (m *Metrics) IncrementConsentAppend(tier string) {
	if m == nil {
		return
	}
	m.ConsentAppends.WithLabelValues(tier).Inc()
}

func (m *Metrics) IncrementUsageAppend() {
	if m == nil {
		return
	}
	m.UsageAppends.Inc()
}

// IncrementUsageFailure counts a swallowed failure; stage is "store" or "publish".
func (m *Metrics) IncrementUsageFailure(stage string) {
	if m == nil {
		return
	}
	m.UsageFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) RecordAttributionEvent(ok bool) {
	if m == nil {
		return
	}
	result := "published"
	if !ok {
		result = "failed"
	}
	m.AttributionEvents.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveSignalCalculation(d time.Duration) {
	if m == nil {
		return
	}
	m.SignalCalcDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordSignalCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.SignalCache.WithLabelValues(result).Inc()
}

func (m *Metrics) ObservePortfolioSize(n int) {
	if m == nil {
		return
	}
	m.PortfolioSize.Observe(float64(n))
}

// ObserveHTTPLatency satisfies the request latency middleware.
func (m *Metrics) ObserveHTTPLatency(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPLatency.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

func (m *Metrics) RecordRateLimit(class string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "reject"
	if allowed {
		outcome = "allow"
	}
	m.RateLimitDecisions.WithLabelValues(class, outcome).Inc()
}

func (m *Metrics) RecordRateLimitFallback() {
	if m == nil {
		return
	}
	m.RateLimitFallbacks.Inc()
}
