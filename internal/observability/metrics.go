package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	Turns             *prometheus.CounterVec
	CapabilityCalls   *prometheus.CounterVec
	CapabilityLatency *prometheus.HistogramVec
	StorageWrites     *prometheus.CounterVec
	CacheEvictions    prometheus.Counter
	SkillRefreshes    *prometheus.CounterVec

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions with state held in memory.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed turns by resolved intent and outcome.",
		}, []string{"intent", "outcome"}),
		CapabilityCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_calls_total",
			Help:      "Capability invocations by capability and outcome.",
		}, []string{"capability", "outcome"}),
		CapabilityLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capability_latency_ms",
			Help:      "Capability call latency in milliseconds, including retries.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000, 32000},
		}, []string{"capability"}),
		StorageWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_writes_total",
			Help:      "Storage tier writes by tier and outcome.",
		}, []string{"tier", "outcome"}),
		CacheEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Local cache records removed by count eviction.",
		}),
		SkillRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skill_refreshes_total",
			Help:      "Skill corpus refresh attempts by outcome.",
		}, []string{"outcome"}),
		stages: newStageWindow(256),
	}
}

// The helpers below are nil-safe so components can run without metrics.

func (m *Metrics) ObserveCapability(capability, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.CapabilityCalls.WithLabelValues(capability, outcome).Inc()
	m.CapabilityLatency.WithLabelValues(capability).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveTurn(intent, outcome string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(intent, outcome).Inc()
}

func (m *Metrics) ObserveStorageWrite(tier, outcome string) {
	if m == nil {
		return
	}
	m.StorageWrites.WithLabelValues(tier, outcome).Inc()
}

func (m *Metrics) ObserveEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CacheEvictions.Add(float64(n))
}

func (m *Metrics) ObserveSkillRefresh(outcome string) {
	if m == nil {
		return
	}
	m.SkillRefreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObserveTurnStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.observe(stage, float64(d.Microseconds())/1000)
}

func (m *Metrics) ObserveTurnIndicator(name string) {
	if m == nil {
		return
	}
	m.stages.count(name)
}

// SnapshotTurnStages summarizes recent stage latencies, optionally only
// for the named stages.
func (m *Metrics) SnapshotTurnStages(stages ...string) StageSnapshot {
	if m == nil {
		return newStageWindow(0).snapshot()
	}
	return m.stages.snapshot(stages...)
}

// ResetTurnStages drops every collected sample and indicator.
func (m *Metrics) ResetTurnStages() {
	if m == nil {
		return
	}
	m.stages.reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
