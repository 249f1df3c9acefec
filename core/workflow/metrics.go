package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	incidentsProcessed  *prometheus.CounterVec
	stageDuration       *prometheus.HistogramVec
	autonomousDecisions *prometheus.CounterVec
	pendingEscalations  prometheus.Gauge
}

// NewMetrics registers the workflow metrics on the given registerer. Tests
// pass a fresh registry so engines never collide on registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		incidentsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sapsan_incidents_processed_total",
			Help: "Incidents reaching a terminal state, by final status.",
		}, []string{"status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sapsan_stage_duration_seconds",
			Help:    "Wall time per pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.005, 3, 10),
		}, []string{"stage"}),
		autonomousDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sapsan_autonomous_decisions_total",
			Help: "Decision outcomes, split by whether the plan ran autonomously.",
		}, []string{"autonomous"}),
		pendingEscalations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sapsan_pending_escalations",
			Help: "Escalations currently awaiting a human decision.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.incidentsProcessed, m.stageDuration, m.autonomousDecisions, m.pendingEscalations)
	}
	return m
}

func (m *Metrics) ObserveStage(stage string, started time.Time) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
}

func (m *Metrics) IncidentDone(status string) {
	if m == nil {
		return
	}
	m.incidentsProcessed.WithLabelValues(status).Inc()
}

func (m *Metrics) Decision(autonomous bool) {
	if m == nil {
		return
	}
	label := "false"
	if autonomous {
		label = "true"
	}
	m.autonomousDecisions.WithLabelValues(label).Inc()
}

func (m *Metrics) SetPendingEscalations(n int) {
	if m == nil {
		return
	}
	m.pendingEscalations.Set(float64(n))
}
