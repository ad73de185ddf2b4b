package monitoring

import (
	"peercall/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements ports.SessionMetrics on top of promauto
// collectors registered against the default registry.
type PrometheusCollector struct {
	sessionsActive  prometheus.Gauge
	sessionsJoined  *prometheus.CounterVec
	reconnectsTotal prometheus.Counter
	reconnectResult *prometheus.CounterVec
	connectionState *prometheus.CounterVec
	candidatesTotal *prometheus.CounterVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "peercall_sessions_active",
			Help: "Number of sessions currently attached to a call",
		}),

		sessionsJoined: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_sessions_joined_total",
			Help: "Total number of completed joins, by resolved role",
		}, []string{"role"}),

		reconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peercall_reconnects_started_total",
			Help: "Total number of reconnection cycles started",
		}),

		reconnectResult: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_reconnects_finished_total",
			Help: "Total number of finished reconnection cycles, by result",
		}, []string{"result"}),

		connectionState: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_connection_state_transitions_total",
			Help: "Total number of surfaced connection state transitions",
		}, []string{"state"}),

		candidatesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_candidates_published_total",
			Help: "Total number of local ICE candidates published, by side",
		}, []string{"side"}),
	}
}

func (p *PrometheusCollector) SessionJoined(role domain.Role) {
	p.sessionsActive.Inc()
	p.sessionsJoined.WithLabelValues(string(role)).Inc()
}

func (p *PrometheusCollector) SessionLeft() {
	p.sessionsActive.Dec()
}

func (p *PrometheusCollector) ReconnectStarted() {
	p.reconnectsTotal.Inc()
}

func (p *PrometheusCollector) ReconnectFinished(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	p.reconnectResult.WithLabelValues(result).Inc()
}

func (p *PrometheusCollector) ConnectionStateChanged(state domain.ConnectionState) {
	p.connectionState.WithLabelValues(string(state)).Inc()
}

func (p *PrometheusCollector) CandidatePublished(side domain.CandidateSide) {
	p.candidatesTotal.WithLabelValues(string(side)).Inc()
}
