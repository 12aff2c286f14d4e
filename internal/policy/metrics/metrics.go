package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for gate evaluation.
type Metrics struct {
	Evaluations *prometheus.CounterVec
	Blocked     *prometheus.CounterVec
}

// New creates and registers the policy metrics.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the metrics on reg; tests pass a fresh registry.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "devguard_policy_gate_evaluations_total",
			Help: "Gate evaluations by gate type and resulting status",
		}, []string{"type", "status"}),
		Blocked: f.NewCounterVec(prometheus.CounterOpts{
			Name: "devguard_policy_decisions_blocked_total",
			Help: "Admission decisions that blocked an operation, by workflow category",
		}, []string{"category"}),
	}
}

// ObserveResult records one gate evaluation.
func (m *Metrics) ObserveResult(gateType, status string) {
	if m != nil {
		m.Evaluations.WithLabelValues(gateType, status).Inc()
	}
}

// IncBlocked records a blocked admission decision.
func (m *Metrics) IncBlocked(category string) {
	if m != nil {
		m.Blocked.WithLabelValues(category).Inc()
	}
}
