// Package metrics registers Prometheus instruments for the workflow engine
// and checkpoint layer. All methods are nil-safe so components can run
// without metrics in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the spectrad instrument set.
type Metrics struct {
	stagesTotal      *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	routeDecisions   *prometheus.CounterVec
	criticDecisions  *prometheus.CounterVec
	checkpointSaves  *prometheus.CounterVec
	checkpointFails  prometheus.Counter
	backendFailovers prometheus.Counter
}

// New registers all instruments with reg. Pass prometheus.DefaultRegisterer
// in production binaries.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		stagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spectrad",
			Name:      "workflow_stages_total",
			Help:      "Stage executions by stage name and outcome.",
		}, []string{"stage", "outcome"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "spectrad",
			Name:      "workflow_stage_duration_seconds",
			Help:      "Stage execution latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		routeDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spectrad",
			Name:      "workflow_route_decisions_total",
			Help:      "Routing decisions by source stage and target.",
		}, []string{"from", "to"}),
		criticDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spectrad",
			Name:      "critic_decisions_total",
			Help:      "Critic verdicts by decision.",
		}, []string{"decision"}),
		checkpointSaves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spectrad",
			Name:      "checkpoint_saves_total",
			Help:      "Checkpoint writes by backend and status.",
		}, []string{"backend", "status"}),
		checkpointFails: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "spectrad",
			Name:      "checkpoint_unrecoverable_failures_total",
			Help:      "Checkpoint writes that failed on every backend.",
		}),
		backendFailovers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "spectrad",
			Name:      "checkpoint_backend_failovers_total",
			Help:      "Times the active checkpoint backend was demoted.",
		}),
	}
}

// ObserveStage records one stage execution.
func (m *Metrics) ObserveStage(stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.stagesTotal.WithLabelValues(stage, outcome).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveRoute records one routing decision.
func (m *Metrics) ObserveRoute(from, to string) {
	if m == nil {
		return
	}
	m.routeDecisions.WithLabelValues(from, to).Inc()
}

// ObserveCriticDecision records one critic verdict.
func (m *Metrics) ObserveCriticDecision(decision string) {
	if m == nil {
		return
	}
	m.criticDecisions.WithLabelValues(decision).Inc()
}

// ObserveCheckpointSave records one checkpoint write attempt.
func (m *Metrics) ObserveCheckpointSave(backend, status string) {
	if m == nil {
		return
	}
	m.checkpointSaves.WithLabelValues(backend, status).Inc()
}

// ObserveCheckpointFailure records a write that exhausted all backends.
func (m *Metrics) ObserveCheckpointFailure() {
	if m == nil {
		return
	}
	m.checkpointFails.Inc()
}

// ObserveFailover records a backend demotion.
func (m *Metrics) ObserveFailover() {
	if m == nil {
		return
	}
	m.backendFailovers.Inc()
}
