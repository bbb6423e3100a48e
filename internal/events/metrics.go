package events

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes run/task counters fed from the event bus.
type Metrics struct {
	tasksTotal       *prometheus.CounterVec
	tasksInflight    prometheus.Gauge
	phaseTransitions *prometheus.CounterVec
	runsTotal        *prometheus.CounterVec
	plansTotal       prometheus.Counter
}

// NewMetrics registers the collectors on reg and returns the set. Use
// prometheus.DefaultRegisterer for the process-wide registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alphy_tasks_total",
			Help: "Research tasks by terminal status.",
		}, []string{"status"}),
		tasksInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alphy_tasks_inflight",
			Help: "Research tasks currently executing.",
		}),
		phaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alphy_phase_transitions_total",
			Help: "Phase state machine transitions by target phase.",
		}, []string{"phase"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alphy_runs_total",
			Help: "Completed runs by outcome (complete or partial).",
		}, []string{"outcome"}),
		plansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alphy_plans_total",
			Help: "Research plans created.",
		}),
	}
	reg.MustRegister(m.tasksTotal, m.tasksInflight, m.phaseTransitions, m.runsTotal, m.plansTotal)
	return m
}

// Attach subscribes the metrics collectors to the bus and returns the
// unsubscribe function.
func (m *Metrics) Attach(bus *Bus) func() {
	return bus.Subscribe(nil, m.handle)
}

func (m *Metrics) handle(ev Event) {
	switch ev.Kind {
	case KindPlanCreated:
		m.plansTotal.Inc()
	case KindTaskStarted:
		m.tasksInflight.Inc()
	case KindTaskCompleted:
		m.tasksInflight.Dec()
		status, _ := ev.Payload["status"].(string)
		if status == "" {
			status = "ok"
		}
		m.tasksTotal.WithLabelValues(status).Inc()
	case KindTaskFailed:
		m.tasksInflight.Dec()
		status, _ := ev.Payload["status"].(string)
		if status == "" {
			status = "failed"
		}
		m.tasksTotal.WithLabelValues(status).Inc()
	case KindPhaseChanged:
		phase, _ := ev.Payload["phase"].(string)
		m.phaseTransitions.WithLabelValues(phase).Inc()
	case KindRunDone:
		outcome := "complete"
		if partial, _ := ev.Payload["partial"].(bool); partial {
			outcome = "partial"
		}
		m.runsTotal.WithLabelValues(outcome).Inc()
	}
}
