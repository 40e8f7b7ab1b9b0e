// Package metrics provides Prometheus instrumentation for the ACN core,
// grounded on the teacher's infrastructure/metrics/metrics.go: a flat
// struct of registered collectors plus Record*/Set* helper methods, built
// once at boot and threaded through every collaborator that needs to
// observe something.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector the core exposes.
type Metrics struct {
	// Request surface (internal/middleware, internal/httpapi).
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	ErrorsTotal *prometheus.CounterVec

	// Registry (C2, spec §4.2).
	AgentsRegisteredTotal *prometheus.CounterVec
	AgentsActive          prometheus.Gauge

	// Gateway (C3, spec §4.3).
	GatewayConnectionsOpen prometheus.Gauge
	GatewayHandshakesTotal *prometheus.CounterVec

	// Router & Broadcaster (C4, spec §4.4).
	MessagesTotal    *prometheus.CounterVec
	BroadcastFanOut  prometheus.Histogram
	DLQDepth         prometheus.Gauge
	WebhookDeliveryTotal *prometheus.CounterVec

	// Task Engine (C5, spec §4.5).
	TasksCreatedTotal       *prometheus.CounterVec
	ParticipationsTotal     *prometheus.CounterVec
	EscrowReleasedTotal     prometheus.Counter
	WalletCallDuration      *prometheus.HistogramVec

	// Service info.
	ServiceInfo *prometheus.GaugeVec
}

// New creates a Metrics instance registered against the default registerer.
func New(serviceName, version string) *Metrics {
	return NewWithRegistry(serviceName, version, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against registerer,
// or left unregistered when registerer is nil (tests).
func NewWithRegistry(serviceName, version string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acn_http_requests_total",
			Help: "Total number of HTTP requests handled by the request surface.",
		}, []string{"method", "path", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "acn_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "path"}),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "acn_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acn_errors_total",
			Help: "Total number of errors by kind and component.",
		}, []string{"kind", "component"}),

		AgentsRegisteredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acn_agents_registered_total",
			Help: "Total number of agent registrations, by path (register/join).",
		}, []string{"path"}),
		AgentsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "acn_agents_active",
			Help: "Current number of agents with a non-expired liveness key.",
		}),

		GatewayConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "acn_gateway_connections_open",
			Help: "Current number of open gateway connections.",
		}),
		GatewayHandshakesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acn_gateway_handshakes_total",
			Help: "Total gateway handshake attempts, by outcome.",
		}, []string{"outcome"}),

		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acn_messages_total",
			Help: "Total messages processed by the router, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		BroadcastFanOut: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "acn_broadcast_fan_out",
			Help:    "Number of recipients per broadcast.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),
		DLQDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "acn_dlq_depth",
			Help: "Current number of entries in the dead-letter queue.",
		}),
		WebhookDeliveryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acn_webhook_delivery_total",
			Help: "Total webhook delivery attempts, by outcome.",
		}, []string{"outcome"}),

		TasksCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acn_tasks_created_total",
			Help: "Total tasks created, by mode (single/multi).",
		}, []string{"mode"}),
		ParticipationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acn_participations_total",
			Help: "Total participation state transitions, by resulting status.",
		}, []string{"status"}),
		EscrowReleasedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "acn_escrow_released_total",
			Help: "Total number of escrow releases on task completion review.",
		}),
		WalletCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "acn_wallet_call_duration_seconds",
			Help:    "Duration of outbound wallet collaborator calls.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "status"}),

		ServiceInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "acn_service_info",
			Help: "Static service build information.",
		}, []string{"service", "version"}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal, m.RequestDuration, m.RequestsInFlight, m.ErrorsTotal,
			m.AgentsRegisteredTotal, m.AgentsActive,
			m.GatewayConnectionsOpen, m.GatewayHandshakesTotal,
			m.MessagesTotal, m.BroadcastFanOut, m.DLQDepth, m.WebhookDeliveryTotal,
			m.TasksCreatedTotal, m.ParticipationsTotal, m.EscrowReleasedTotal, m.WalletCallDuration,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, version).Set(1)
	return m
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordError increments the error counter for kind/component (spec §7 Kind
// values, and the component that surfaced the error).
func (m *Metrics) RecordError(kind, component string) {
	m.ErrorsTotal.WithLabelValues(kind, component).Inc()
}

// RecordWalletCall records an outbound wallet collaborator call's duration.
func (m *Metrics) RecordWalletCall(method, status string, duration time.Duration) {
	m.WalletCallDuration.WithLabelValues(method, status).Observe(duration.Seconds())
}

// IncrementInFlight/DecrementInFlight track concurrently-handled requests.
func (m *Metrics) IncrementInFlight() { m.RequestsInFlight.Inc() }
func (m *Metrics) DecrementInFlight() { m.RequestsInFlight.Dec() }

// SetAgentsActive sets the current active-agent gauge.
func (m *Metrics) SetAgentsActive(n int) { m.AgentsActive.Set(float64(n)) }

// SetDLQDepth sets the current DLQ depth gauge.
func (m *Metrics) SetDLQDepth(n int) { m.DLQDepth.Set(float64(n)) }

// SetGatewayConnectionsOpen sets the current open-gateway-connection gauge.
func (m *Metrics) SetGatewayConnectionsOpen(n int) { m.GatewayConnectionsOpen.Set(float64(n)) }

var (
	global   *Metrics
	globalMu sync.Mutex
)

// Init initializes the process-wide Metrics instance, returning the
// existing one if already initialized.
func Init(serviceName, version string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New(serviceName, version)
	}
	return global
}

// Global returns the process-wide Metrics instance, initializing a
// fallback instance if Init was never called.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New("acnd", "dev")
	}
	return global
}
