package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/jobctl/pkg/domain"
)

// Metrics holds the controller collectors.
type Metrics struct {
	Transitions *prometheus.CounterVec
	State       *prometheus.GaugeVec
	Runs        *prometheus.CounterVec
	ActiveRuns  prometheus.Gauge
	Operations  *prometheus.HistogramVec
	Failures    *prometheus.CounterVec
	Decisions   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobctl_transitions_total",
				Help: "Committed state machine transitions",
			},
			[]string{"from", "to", "message", "reverted"},
		),
		State: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "jobctl_state",
				Help: "1 for the current controller state, 0 otherwise",
			},
			[]string{"state"},
		),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobctl_runs_total",
				Help: "Runs ended, by processor and outcome",
			},
			[]string{"processor", "outcome"},
		),
		ActiveRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobctl_active_runs",
				Help: "Runs started and not yet ended",
			},
		),
		Operations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobctl_operation_duration_seconds",
				Help:    "Duration of processor calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"processor", "op", "result"},
		),
		Failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobctl_failures_total",
				Help: "Processor failures",
			},
			[]string{"processor", "op"},
		),
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobctl_decisions_total",
				Help: "Failure decisions taken",
			},
			[]string{"decision"},
		),
	}
	for _, s := range domain.States {
		m.State.WithLabelValues(string(s)).Set(0)
	}
	m.State.WithLabelValues(string(domain.StateStopped)).Set(1)

	if reg != nil {
		reg.MustRegister(m.Transitions, m.State, m.Runs, m.ActiveRuns, m.Operations, m.Failures, m.Decisions)
	}
	return m
}

// Hooks returns lifecycle hooks that record into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStateChange: func(_ context.Context, e *domain.StateEvent) {
			reverted := "false"
			if e.Reverted {
				reverted = "true"
			}
			m.Transitions.WithLabelValues(string(e.From), string(e.To), string(e.Message), reverted).Inc()
			m.State.WithLabelValues(string(e.From)).Set(0)
			m.State.WithLabelValues(string(e.To)).Set(1)
		},
		OnRunStart: func(context.Context, *domain.RunRecord) {
			m.ActiveRuns.Inc()
		},
		OnRunEnd: func(_ context.Context, r *domain.RunRecord) {
			m.ActiveRuns.Dec()
			m.Runs.WithLabelValues(string(r.Processor), string(r.Outcome)).Inc()
		},
		OnOperation: func(_ context.Context, e *domain.OperationEvent) {
			result := "ok"
			if e.Err != nil {
				result = "error"
			}
			m.Operations.WithLabelValues(string(e.Processor), e.Op, result).Observe(e.Duration.Seconds())
		},
		OnFailure: func(_ context.Context, e *domain.FailureEvent) {
			m.Failures.WithLabelValues(string(e.Processor), e.Op).Inc()
			if e.Decision != "" {
				m.Decisions.WithLabelValues(string(e.Decision)).Inc()
			}
		},
	}
}
