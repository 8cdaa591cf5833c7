// Package metrics holds the Prometheus collectors for the hotspot service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every recorder becomes a no-op.
type Metrics struct {
	registry *prometheus.Registry

	authDecisions   *prometheus.CounterVec
	sessionsCreated *prometheus.CounterVec
	sessionChanges  *prometheus.CounterVec
	redemptions     *prometheus.CounterVec
	webhooks        *prometheus.CounterVec
	mirrorFailures  prometheus.Counter
	httpDuration    *prometheus.HistogramVec
}

// New registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		authDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hotspot",
			Name:      "auth_decisions_total",
			Help:      "Gateway authentication decisions by result.",
		}, []string{"result"}),
		sessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hotspot",
			Name:      "sessions_created_total",
			Help:      "Authorization records created by provisioning source.",
		}, []string{"source"}),
		sessionChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hotspot",
			Name:      "session_changes_total",
			Help:      "Administrative session changes (extend, revoke).",
		}, []string{"action"}),
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hotspot",
			Name:      "redemptions_total",
			Help:      "Voucher redemptions and payment claims by outcome.",
		}, []string{"kind", "outcome"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hotspot",
			Name:      "payment_webhooks_total",
			Help:      "Payment provider webhooks by provider state and outcome.",
		}, []string{"state", "outcome"}),
		mirrorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hotspot",
			Name:      "accounting_mirror_failures_total",
			Help:      "Accounting records that could not be mirrored to Redis.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hotspot",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.authDecisions,
		m.sessionsCreated,
		m.sessionChanges,
		m.redemptions,
		m.webhooks,
		m.mirrorFailures,
		m.httpDuration,
	)
	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) AuthDecision(result string) {
	if m == nil {
		return
	}
	m.authDecisions.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionCreated(source string) {
	if m == nil {
		return
	}
	m.sessionsCreated.WithLabelValues(source).Inc()
}

func (m *Metrics) SessionChanged(action string) {
	if m == nil {
		return
	}
	m.sessionChanges.WithLabelValues(action).Inc()
}

func (m *Metrics) Redemption(kind, outcome string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Webhook(state, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(state, outcome).Inc()
}

func (m *Metrics) MirrorFailure() {
	if m == nil {
		return
	}
	m.mirrorFailures.Inc()
}

func (m *Metrics) ObserveHTTP(route, code string, seconds float64) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(route, code).Observe(seconds)
}
