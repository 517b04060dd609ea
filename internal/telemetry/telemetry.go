// Package telemetry exposes Prometheus instrumentation for the ownership
// listener and the vault host channel.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the vaultd instrument set around one registry.
type Metrics struct {
	registry *prometheus.Registry

	// RelayRequests counts relay requests by operation and outcome
	// ("ok" or the api error kind).
	RelayRequests *prometheus.CounterVec
	// AuthFailures counts requests rejected before dispatch for a bad token.
	AuthFailures prometheus.Counter
	// RelayInFlight tracks concurrently executing relay requests.
	RelayInFlight prometheus.Gauge
	// ConnectorState reports the host channel state as a 0/1 gauge per state.
	ConnectorState *prometheus.GaugeVec
	// HostRoundtrips counts host channel roundtrips by outcome.
	HostRoundtrips *prometheus.CounterVec
	// Reconnects counts host channel reconnect attempts.
	Reconnects prometheus.Counter
}

// New builds the instrument set on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RelayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultd_relay_requests_total",
			Help: "Relay requests handled by the ownership listener.",
		}, []string{"operation", "outcome"}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultd_auth_failures_total",
			Help: "Requests rejected before dispatch for a missing or bad token.",
		}),
		RelayInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vaultd_relay_in_flight",
			Help: "Relay requests currently executing.",
		}),
		ConnectorState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vaultd_connector_state",
			Help: "Vault host channel state (1 for the active state).",
		}, []string{"state"}),
		HostRoundtrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultd_host_roundtrips_total",
			Help: "Vault host channel roundtrips by outcome.",
		}, []string{"outcome"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultd_host_reconnects_total",
			Help: "Vault host channel reconnect attempts.",
		}),
	}
	reg.MustRegister(
		m.RelayRequests,
		m.AuthFailures,
		m.RelayInFlight,
		m.ConnectorState,
		m.HostRoundtrips,
		m.Reconnects,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// SetConnectorState flips the state gauge so exactly one state reads 1.
func (m *Metrics) SetConnectorState(state string) {
	for _, s := range []string{"disconnected", "connecting", "connected", "degraded"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.ConnectorState.WithLabelValues(s).Set(v)
	}
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
