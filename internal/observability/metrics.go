package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so that several gateways (or tests) can
// live in one process. All methods are safe on a nil receiver.
type Metrics struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	authDecisions *prometheus.CounterVec
	loginAttempts *prometheus.CounterVec
	tokensIssued  *prometheus.CounterVec
	storeErrors   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method and status code.",
		}, []string{"method", "status"}),
		authDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "auth_decisions_total",
			Help:      "Authorization chain outcomes, by mechanism and result.",
		}, []string{"via", "outcome"}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "login_attempts_total",
			Help:      "Credential checks, by result (success, invalid, locked).",
		}, []string{"result"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "tokens_issued_total",
			Help:      "Token pairs issued, by grant type.",
		}, []string{"grant"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "store_errors_total",
			Help:      "Backing store failures, by operation.",
		}, []string{"operation"}),
	}
	registry.MustRegister(m.requests, m.authDecisions, m.loginAttempts, m.tokensIssued, m.storeErrors)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRequest(method string, status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func (m *Metrics) ObserveAuthDecision(via, outcome string) {
	if m == nil {
		return
	}
	m.authDecisions.WithLabelValues(via, outcome).Inc()
}

func (m *Metrics) ObserveLoginAttempt(result string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveTokensIssued(grant string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(grant).Inc()
}

func (m *Metrics) ObserveStoreError(operation string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(operation).Inc()
}
