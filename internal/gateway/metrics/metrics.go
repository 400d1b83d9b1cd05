// Package metrics exposes gateway counters in Prometheus format.
//
// Every recording method is safe on a nil *Metrics so services can run
// without a registry in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tollgate"

// Auth decision results.
const (
	ResultAllow        = "allow"
	ResultUnauthorized = "unauthorized"
	ResultForbidden    = "forbidden"
	ResultError        = "error"
)

// Login results.
const (
	LoginSuccess       = "success"
	LoginStateMismatch = "state_mismatch"
	LoginProviderError = "provider_error"
	LoginTimeout       = "timeout"
	LoginError         = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	authDecisions *prometheus.CounterVec
	logins        *prometheus.CounterVec
	tokensIssued  *prometheus.CounterVec
	tokensRevoked prometheus.Counter
	keyRotations  *prometheus.CounterVec
}

// New creates a registry carrying the gateway counters plus the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		authDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_decisions_total",
			Help:      "Auth subrequest decisions by result.",
		}, []string{"result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Completed login callbacks by provider and result.",
		}, []string{"provider", "result"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Tokens minted by type.",
		}, []string{"type"}),
		tokensRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_revoked_total",
			Help:      "Tokens removed by revocation, descendants included.",
		}),
		keyRotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_rotations_total",
			Help:      "Signing key rotations by trigger.",
		}, []string{"trigger"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.authDecisions,
		m.logins,
		m.tokensIssued,
		m.tokensRevoked,
		m.keyRotations,
	)
	return m
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) AuthDecision(result string) {
	if m == nil {
		return
	}
	m.authDecisions.WithLabelValues(result).Inc()
}

func (m *Metrics) Login(provider, result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) TokenIssued(tokenType string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(tokenType).Inc()
}

func (m *Metrics) TokensRevoked(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tokensRevoked.Add(float64(n))
}

func (m *Metrics) KeyRotated(trigger string) {
	if m == nil {
		return
	}
	m.keyRotations.WithLabelValues(trigger).Inc()
}
