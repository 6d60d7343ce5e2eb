// Package metrics exposes the driver's running counters as Prometheus
// instruments, grounded on jinterlante1206-AleutianLocal's use of
// github.com/prometheus/client_golang for process-level counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every counter/gauge the driver updates per execution.
type Metrics struct {
	Executions       prometheus.Counter
	CyclesDetected   prometheus.Counter
	Rollbacks        prometheus.Counter
	PromisesResolved prometheus.Counter
	Bugs             prometheus.Counter
	LearnedLeaves    prometheus.Gauge
}

// New registers a fresh Metrics bundle with reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry across parallel test binaries.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Executions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "c11tester_executions_total",
			Help: "Number of executions started, feasible or not.",
		}),
		CyclesDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "c11tester_cycles_detected_total",
			Help: "Number of edge additions that were rejected for closing a cycle.",
		}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "c11tester_rollbacks_total",
			Help: "Number of cycle-graph transactions rolled back.",
		}),
		PromisesResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "c11tester_promises_resolved_total",
			Help: "Number of promises resolved or merged into a concrete write.",
		}),
		Bugs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "c11tester_bugs_total",
			Help: "Number of user bugs collected across all executions.",
		}),
		LearnedLeaves: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "c11tester_predicate_leaves",
			Help: "Total predicate-tree leaves across all function nodes.",
		}),
	}
	reg.MustRegister(m.Executions, m.CyclesDetected, m.Rollbacks, m.PromisesResolved, m.Bugs, m.LearnedLeaves)
	return m
}
