package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit streams.
type Metrics struct {
	Writes             *prometheus.CounterVec
	DecryptFailures    prometheus.Counter
	FilesPruned        *prometheus.CounterVec
	EphemeralKey       prometheus.Gauge
	ForwardFailures    prometheus.Counter
	ForwardDropped     prometheus.Counter
	ForwardBreakerOpen prometheus.Gauge
}

// New creates the audit metrics on the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the metrics on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Writes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "devguard_audit_writes_total",
			Help: "Audit line appends by stream and outcome",
		}, []string{"stream", "outcome"}),
		DecryptFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "devguard_audit_decrypt_failures_total",
			Help: "Shadow lines that failed authentication or decoding on read",
		}),
		FilesPruned: f.NewCounterVec(prometheus.CounterOpts{
			Name: "devguard_audit_files_pruned_total",
			Help: "Date-partitioned log files removed by retention, by stream",
		}, []string{"stream"}),
		EphemeralKey: f.NewGauge(prometheus.GaugeOpts{
			Name: "devguard_audit_ephemeral_key",
			Help: "1 when the shadow stream runs on a key generated for this process only",
		}),
		ForwardFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "devguard_audit_forward_failures_total",
			Help: "Public records the export sink failed to deliver",
		}),
		ForwardDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "devguard_audit_forward_dropped_total",
			Help: "Public records dropped before export (queue full or circuit open)",
		}),
		ForwardBreakerOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "devguard_audit_forward_circuit_open",
			Help: "Export circuit breaker state (0=closed, 1=open)",
		}),
	}
}

// ObserveWrite records one append attempt.
func (m *Metrics) ObserveWrite(stream string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Writes.WithLabelValues(stream, outcome).Inc()
}

func (m *Metrics) IncDecryptFailure() {
	if m == nil {
		return
	}
	m.DecryptFailures.Inc()
}

func (m *Metrics) AddPruned(stream string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.FilesPruned.WithLabelValues(stream).Add(float64(n))
}

func (m *Metrics) SetEphemeralKey(ephemeral bool) {
	if m == nil {
		return
	}
	if ephemeral {
		m.EphemeralKey.Set(1)
	} else {
		m.EphemeralKey.Set(0)
	}
}

func (m *Metrics) IncForwardFailure() {
	if m == nil {
		return
	}
	m.ForwardFailures.Inc()
}

func (m *Metrics) IncForwardDropped() {
	if m == nil {
		return
	}
	m.ForwardDropped.Inc()
}

func (m *Metrics) SetForwardBreaker(open bool) {
	if m == nil {
		return
	}
	if open {
		m.ForwardBreakerOpen.Set(1)
	} else {
		m.ForwardBreakerOpen.Set(0)
	}
}
