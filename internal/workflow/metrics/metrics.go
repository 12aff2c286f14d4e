package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for workflow execution.
type Metrics struct {
	Executions    *prometheus.CounterVec
	StepDuration  *prometheus.HistogramVec
	StepRetries   prometheus.Counter
	Rollbacks     *prometheus.CounterVec
	ActiveRuns    prometheus.Gauge
	LeaseConflict prometheus.Counter
}

// New creates and registers the workflow metrics on the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the metrics on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Executions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "devguard_workflow_executions_total",
			Help: "Workflow invocations by workflow id and outcome",
		}, []string{"workflow", "outcome"}),
		StepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "devguard_workflow_step_duration_seconds",
			Help:    "Time spent executing a single step attempt",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"type"}),
		StepRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "devguard_workflow_step_retries_total",
			Help: "Step re-attempts issued under the retry policy",
		}),
		Rollbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "devguard_workflow_rollbacks_total",
			Help: "Rollbacks run after failed workflows, by outcome",
		}, []string{"outcome"}),
		ActiveRuns: f.NewGauge(prometheus.GaugeOpts{
			Name: "devguard_workflow_active_runs",
			Help: "Workflow invocations currently executing",
		}),
		LeaseConflict: f.NewCounter(prometheus.CounterOpts{
			Name: "devguard_workflow_lease_conflicts_total",
			Help: "Invocations refused because the device was busy",
		}),
	}
}

func (m *Metrics) ObserveExecution(workflowID, outcome string) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(workflowID, outcome).Inc()
}

func (m *Metrics) ObserveStep(stepType string, d time.Duration) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(stepType).Observe(d.Seconds())
}

func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.StepRetries.Inc()
}

func (m *Metrics) ObserveRollback(success bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if success {
		outcome = "succeeded"
	}
	m.Rollbacks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

func (m *Metrics) RunFinished() {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
}

func (m *Metrics) IncLeaseConflict() {
	if m == nil {
		return
	}
	m.LeaseConflict.Inc()
}
