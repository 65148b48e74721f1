/*
Package metrics exposes Prometheus metrics for the market engine.

PURPOSE:
  One Metrics value implements every recorder interface the domain
  packages declare, so services stay unaware of Prometheus:

    generic.Observer   coordinator attempts, conflicts and outcomes
    market.Recorder    committed subsidies
    quests.Recorder    paid quest rewards
    reports.Recorder   dropped reports by reason

  HTTP latency is recorded by Middleware. Everything registers on a
  private registry served by Handler.

SEE ALSO:
  - generic/coordinator.go: Observer calls
  - api/server.go: /metrics route and middleware
*/
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/market-engine/generic"
)

// Option configures Metrics.
type Option func(*options)

type options struct {
	namespace string
	buckets   []float64
	registry  *prometheus.Registry
}

func WithNamespace(ns string) Option {
	return func(o *options) { o.namespace = ns }
}

func WithBuckets(b []float64) Option {
	return func(o *options) { o.buckets = b }
}

// WithRegistry registers on r instead of a fresh registry.
func WithRegistry(r *prometheus.Registry) Option {
	return func(o *options) { o.registry = r }
}

type Metrics struct {
	registry *prometheus.Registry

	txAttempts  *prometheus.CounterVec
	txConflicts *prometheus.CounterVec
	txOutcomes  *prometheus.CounterVec
	txDuration  *prometheus.HistogramVec

	subsidyTotal   prometheus.Counter
	subsidyCount   prometheus.Counter
	rewardTotal    *prometheus.CounterVec
	rewardCount    *prometheus.CounterVec
	reportsDropped *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func New(opts ...Option) *Metrics {
	o := options{namespace: "market", buckets: prometheus.DefBuckets}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
		o.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	f := promauto.With(o.registry)
	ns := o.namespace

	return &Metrics{
		registry: o.registry,

		txAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "tx", Name: "attempts_total",
			Help: "Transaction attempts by operation.",
		}, []string{"op"}),
		txConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "tx", Name: "conflicts_total",
			Help: "Attempts aborted by a concurrent modification.",
		}, []string{"op"}),
		txOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "tx", Name: "outcomes_total",
			Help: "Finished operations by result.",
		}, []string{"op", "result"}),
		txDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "tx", Name: "duration_seconds",
			Help: "Operation latency including retries.", Buckets: o.buckets,
		}, []string{"op"}),

		subsidyTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "liquidity", Name: "subsidy_mana_total",
			Help: "Net subsidy added to contract pools.",
		}),
		subsidyCount: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "liquidity", Name: "provisions_total",
			Help: "Committed liquidity provisions.",
		}),
		rewardTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "quests", Name: "reward_mana_total",
			Help: "Quest rewards paid.",
		}, []string{"quest_type"}),
		rewardCount: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "quests", Name: "rewards_total",
			Help: "Quest reward payments.",
		}, []string{"quest_type"}),
		reportsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "reports", Name: "dropped_total",
			Help: "Reports left out of listings.",
		}, []string{"reason"}),

		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "http", Name: "request_duration_seconds",
			Help: "HTTP request latency.", Buckets: o.buckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the registry metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// =============================================================================
// DOMAIN RECORDERS
// =============================================================================

func (m *Metrics) ObserveAttempt(op string, _ int, err error) {
	m.txAttempts.WithLabelValues(op).Inc()
	if errors.Is(err, generic.ErrConcurrentModification) {
		m.txConflicts.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) ObserveOutcome(op string, err error, elapsed time.Duration) {
	m.txOutcomes.WithLabelValues(op, outcome(err)).Inc()
	m.txDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "committed"
	case generic.IsRetryable(err):
		return "conflict"
	case generic.IsClientError(err):
		return "rejected"
	default:
		return "failed"
	}
}

func (m *Metrics) SubsidyAdded(net generic.Amount) {
	m.subsidyCount.Inc()
	m.subsidyTotal.Add(net.Float64())
}

func (m *Metrics) RewardGranted(questType string, amount generic.Amount) {
	m.rewardCount.WithLabelValues(questType).Inc()
	m.rewardTotal.WithLabelValues(questType).Add(amount.Float64())
}

func (m *Metrics) ReportDropped(reason string) {
	m.reportsDropped.WithLabelValues(reason).Inc()
}

// =============================================================================
// HTTP
// =============================================================================

// Middleware records request count and latency by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
