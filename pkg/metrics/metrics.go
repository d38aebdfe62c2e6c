// Package metrics defines the Prometheus metrics this control plane
// exposes on GET /metrics.
//
// Metric naming follows Prometheus conventions:
//   - sentryd_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsAppendedTotal counts events written to the log by type.
	EventsAppendedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentryd_events_appended_total",
			Help: "Total events appended to the event log, by event type.",
		},
		[]string{"event_type"},
	)

	// BrokerSubscribersGauge tracks live SSE subscriber count.
	BrokerSubscribersGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentryd_broker_subscribers",
			Help: "Number of currently connected stream subscribers.",
		},
	)

	// BrokerOverflowsTotal counts subscribers disconnected for falling
	// behind their queue.
	BrokerOverflowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentryd_broker_overflows_total",
			Help: "Total subscribers disconnected after their queue overflowed.",
		},
	)

	// PolicyDecisionsTotal counts policy evaluations by decision and reason code.
	PolicyDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentryd_policy_decisions_total",
			Help: "Total policy evaluations by decision and reason code.",
		},
		[]string{"decision", "reason_code"},
	)

	// EgressRequestsTotal counts egress requests by terminal decision.
	EgressRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentryd_egress_requests_total",
			Help: "Total egress requests by terminal decision.",
		},
		[]string{"decision"},
	)

	// LearningEventsTotal counts learning pipeline outcomes.
	LearningEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentryd_learning_events_total",
			Help: "Total learning pipeline events by kind.",
		},
		[]string{"kind"},
	)

	// AgentsQuarantinedTotal counts quarantine actions.
	AgentsQuarantinedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentryd_agents_quarantined_total",
			Help: "Total agents moved into quarantine.",
		},
	)

	// RunWorkerCyclesTotal counts run-worker cycles by outcome.
	RunWorkerCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentryd_run_worker_cycles_total",
			Help: "Total run-worker cycle outcomes.",
		},
		[]string{"outcome"},
	)

	// RunWorkerClaimedRuns is a gauge of runs claimed in the most recent cycle.
	RunWorkerClaimedRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentryd_run_worker_claimed_runs",
			Help: "Runs claimed by the run worker in its most recent cycle.",
		},
	)

	// SnapshotsWrittenTotal counts daily agent snapshot rows written.
	SnapshotsWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentryd_snapshots_written_total",
			Help: "Total daily agent snapshot rows written.",
		},
	)
)

// RecordRunCycle records one run-worker cycle result.
func RecordRunCycle(claimed, completed, failed, skipped int) {
	RunWorkerClaimedRuns.Set(float64(claimed))
	RunWorkerCyclesTotal.WithLabelValues("completed").Add(float64(completed))
	RunWorkerCyclesTotal.WithLabelValues("failed").Add(float64(failed))
	RunWorkerCyclesTotal.WithLabelValues("skipped").Add(float64(skipped))
}
