// Package metrics holds the Prometheus collectors of the interpretation core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing,
// so components can be built without observability in tests.
type Metrics struct {
	RowsRejected    *prometheus.CounterVec   // reason
	RowsAccepted    prometheus.Counter       // no labels
	PipelineRuns    *prometheus.CounterVec   // subject, mode, outcome
	Fallbacks       *prometheus.CounterVec   // subject, cause
	NarrativeChoice *prometheus.CounterVec   // source, rule
	StageDuration   *prometheus.HistogramVec // stage, mode
}

// New creates the collectors and registers them with reg. Passing a nil
// registerer creates unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RowsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "interpreter", Subsystem: "validation", Name: "rows_rejected_total",
			Help: "Telemetry rows rejected by the validator, by reason code.",
		}, []string{"reason"}),
		RowsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "interpreter", Subsystem: "validation", Name: "rows_accepted_total",
			Help: "Telemetry rows accepted by the validator.",
		}),
		PipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "interpreter", Subsystem: "pipeline", Name: "runs_total",
			Help: "Stage pipeline executions by subject type, execution mode and outcome.",
		}, []string{"subject", "mode", "outcome"}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "interpreter", Subsystem: "pipeline", Name: "fallbacks_total",
			Help: "Fallbacks from graph to sequential execution, by cause.",
		}, []string{"subject", "cause"}),
		NarrativeChoice: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "interpreter", Subsystem: "narrative", Name: "selections_total",
			Help: "Narrative candidates chosen by the hybrid selector, with the deciding rule.",
		}, []string{"source", "rule"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "interpreter", Subsystem: "pipeline", Name: "stage_duration_seconds",
			Help:    "Stage execution latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"stage", "mode"}),
	}
	if reg != nil {
		reg.MustRegister(m.RowsRejected, m.RowsAccepted, m.PipelineRuns, m.Fallbacks, m.NarrativeChoice, m.StageDuration)
	}
	return m
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.RowsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) Accepted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RowsAccepted.Add(float64(n))
}

func (m *Metrics) Run(subject, mode, outcome string) {
	if m == nil {
		return
	}
	m.PipelineRuns.WithLabelValues(subject, mode, outcome).Inc()
}

func (m *Metrics) Fallback(subject, cause string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(subject, cause).Inc()
}

func (m *Metrics) Narrative(source, rule string) {
	if m == nil {
		return
	}
	m.NarrativeChoice.WithLabelValues(source, rule).Inc()
}

func (m *Metrics) Stage(stage, mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage, mode).Observe(d.Seconds())
}
