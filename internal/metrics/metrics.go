// Package metrics exposes Prometheus instrumentation for the negotiation
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StepsTotal counts executed agent turns by acting role and outcome
	// (advanced, agreed, human_input, error).
	StepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "haggle_negotiation_steps_total",
		Help: "Agent turns executed, by role and outcome.",
	}, []string{"role", "outcome"})

	// StepConflictsTotal counts step requests rejected because another step
	// was already in flight for the same negotiation.
	StepConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "haggle_negotiation_step_conflicts_total",
		Help: "Step requests rejected by the single-flight guard.",
	})

	// AgreementsTotal counts deals struck.
	AgreementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "haggle_negotiation_agreements_total",
		Help: "Negotiations that reached an agreed price.",
	})

	// EscrowTransitionsTotal counts escrow actions applied, by action.
	EscrowTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "haggle_escrow_transitions_total",
		Help: "Escrow state transitions applied, by action.",
	}, []string{"action"})

	// BackendLatency observes reasoning backend round-trip time.
	BackendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "haggle_reasoning_backend_seconds",
		Help:    "Reasoning backend call latency in seconds.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45},
	})

	// RealtimeSubscribers tracks open realtime subscriber channels.
	RealtimeSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "haggle_realtime_subscribers",
		Help: "Open realtime subscriber channels.",
	})
)
