// Package metrics exposes Prometheus counters for the session engine and auth flows.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sessionguard"

// Metrics holds the service counters on a private registry. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	sessionsCreated prometheus.Counter
	rotations       prometheus.Counter
	refreshRejected *prometheus.CounterVec
	policyActions   *prometheus.CounterVec
	txFailures      *prometheus.CounterVec
	accessRevoked   prometheus.Counter
	logouts         *prometheus.CounterVec
}

// New registers all collectors, including the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_created_total",
			Help: "Sessions created by login.",
		}),
		rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "refresh_rotations_total",
			Help: "Successful refresh credential rotations.",
		}),
		refreshRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "refresh_rejected_total",
			Help: "Rejected refresh attempts by reason.",
		}, []string{"reason"}),
		policyActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reuse_policy_actions_total",
			Help: "Defensive actions taken after a rejected refresh.",
		}, []string{"action"}),
		txFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "kv_transaction_failures_total",
			Help: "Store transactions that failed, by kind (conflict or command).",
		}, []string{"kind"}),
		accessRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "access_revoked_total",
			Help: "Access credentials rejected by the revocation ledger.",
		}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "logouts_total",
			Help: "Logouts by scope (device or all).",
		}, []string{"scope"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessionsCreated, m.rotations, m.refreshRejected, m.policyActions,
		m.txFailures, m.accessRevoked, m.logouts,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SessionCreated() {
	if m != nil {
		m.sessionsCreated.Inc()
	}
}

func (m *Metrics) Rotated() {
	if m != nil {
		m.rotations.Inc()
	}
}

// RefreshRejected counts a rejection; reason is the session sub-reason or "invalid_token".
func (m *Metrics) RefreshRejected(reason string) {
	if m != nil {
		m.refreshRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) PolicyAction(action string) {
	if m != nil {
		m.policyActions.WithLabelValues(action).Inc()
	}
}

// TxFailure counts an exhausted ("conflict") or failed ("command") store transaction.
func (m *Metrics) TxFailure(kind string) {
	if m != nil {
		m.txFailures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) AccessRevoked() {
	if m != nil {
		m.accessRevoked.Inc()
	}
}

// Logout counts a logout; scope is "device" or "all".
func (m *Metrics) Logout(scope string) {
	if m != nil {
		m.logouts.WithLabelValues(scope).Inc()
	}
}
