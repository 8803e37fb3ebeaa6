// Package metrics exposes the engine's Prometheus counters, served by the
// API's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transitions counts applied event status transitions by target phase.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoattend_event_transitions_total",
		Help: "Applied event lifecycle transitions.",
	}, []string{"to"})

	// Registrations counts registration attempts by outcome.
	Registrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoattend_registrations_total",
		Help: "Registration attempts by outcome.",
	}, []string{"outcome"})

	// Pings counts ingested presence pings by boundary verdict.
	Pings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoattend_pings_total",
		Help: "Ingested presence pings by inside/outside verdict.",
	}, []string{"inside"})

	// Finalized counts terminal verdicts written by the finalizer.
	Finalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoattend_finalized_records_total",
		Help: "Attendance records finalized by terminal status.",
	}, []string{"status"})

	// TickErrors counts per-event failures inside scheduler ticks.
	TickErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geoattend_scheduler_tick_errors_total",
		Help: "Per-event errors during scheduler ticks.",
	})
)
