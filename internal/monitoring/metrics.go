package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the identity core. All record methods
// are nil-safe so components can run without a collector wired.
type Metrics struct {
	// State store metrics
	StateMutations   prometheus.Counter
	StateSubscribers prometheus.Gauge
	SnapshotSaves    prometheus.Counter
	SnapshotSkips    prometheus.Counter
	SnapshotErrors   prometheus.Counter

	// Token lifecycle metrics
	TokenRefreshes *prometheus.CounterVec
	TokenChecks    *prometheus.CounterVec

	// Automation metrics
	AutomationPasses prometheus.Counter
	AutomationRuns   *prometheus.CounterVec
	ActionInvokes    *prometheus.CounterVec
}

// New creates a metrics collector registered against the given registerer.
// Each engine instance owns its own registry so isolated instances (tests,
// multi-tenant hosts) never collide on metric names.
func New(reg prometheus.Registerer) *Metrics {
	factory := func(opts prometheus.CounterOpts) prometheus.Counter {
		c := prometheus.NewCounter(opts)
		reg.MustRegister(c)
		return c
	}
	vecFactory := func(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
		c := prometheus.NewCounterVec(opts, labels)
		reg.MustRegister(c)
		return c
	}

	m := &Metrics{
		StateMutations: factory(prometheus.CounterOpts{
			Name: "identity_state_mutations_total",
			Help: "Total number of committed state mutations",
		}),
		SnapshotSaves: factory(prometheus.CounterOpts{
			Name: "identity_snapshot_saves_total",
			Help: "Total number of snapshots persisted",
		}),
		SnapshotSkips: factory(prometheus.CounterOpts{
			Name: "identity_snapshot_skips_total",
			Help: "Total number of persistence passes skipped as ephemeral-only",
		}),
		SnapshotErrors: factory(prometheus.CounterOpts{
			Name: "identity_snapshot_errors_total",
			Help: "Total number of failed snapshot writes",
		}),
		TokenRefreshes: vecFactory(prometheus.CounterOpts{
			Name: "identity_token_refreshes_total",
			Help: "Total number of token refresh network calls by result",
		}, []string{"result"}),
		TokenChecks: vecFactory(prometheus.CounterOpts{
			Name: "identity_token_checks_total",
			Help: "Total number of access-token validity checks by outcome",
		}, []string{"outcome"}),
		AutomationPasses: factory(prometheus.CounterOpts{
			Name: "identity_automation_passes_total",
			Help: "Total number of automation evaluation passes",
		}),
		AutomationRuns: vecFactory(prometheus.CounterOpts{
			Name: "identity_automation_runs_total",
			Help: "Total number of automation action runs by automation id",
		}, []string{"automation"}),
		ActionInvokes: vecFactory(prometheus.CounterOpts{
			Name: "identity_action_invokes_total",
			Help: "Total number of action handler invocations by type",
		}, []string{"type"}),
	}

	m.StateSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "identity_state_subscribers",
		Help: "Number of active state subscriptions",
	})
	reg.MustRegister(m.StateSubscribers)

	return m
}

// RecordMutation records a committed state mutation.
func (m *Metrics) RecordMutation() {
	if m == nil {
		return
	}
	m.StateMutations.Inc()
}

// RecordSnapshotSave records a persisted snapshot.
func (m *Metrics) RecordSnapshotSave() {
	if m == nil {
		return
	}
	m.SnapshotSaves.Inc()
}

// RecordSnapshotSkip records a persistence pass skipped by the ephemeral rule.
func (m *Metrics) RecordSnapshotSkip() {
	if m == nil {
		return
	}
	m.SnapshotSkips.Inc()
}

// RecordSnapshotError records a failed snapshot write.
func (m *Metrics) RecordSnapshotError() {
	if m == nil {
		return
	}
	m.SnapshotErrors.Inc()
}

// RecordSubscribers sets the active subscription gauge.
func (m *Metrics) RecordSubscribers(n int) {
	if m == nil {
		return
	}
	m.StateSubscribers.Set(float64(n))
}

// RecordRefresh records a refresh network call outcome.
func (m *Metrics) RecordRefresh(result string) {
	if m == nil {
		return
	}
	m.TokenRefreshes.WithLabelValues(result).Inc()
}

// RecordTokenCheck records a validity check outcome.
func (m *Metrics) RecordTokenCheck(outcome string) {
	if m == nil {
		return
	}
	m.TokenChecks.WithLabelValues(outcome).Inc()
}

// RecordAutomationPass records one debounced evaluation pass.
func (m *Metrics) RecordAutomationPass() {
	if m == nil {
		return
	}
	m.AutomationPasses.Inc()
}

// RecordAutomationRun records an automation whose actions fired.
func (m *Metrics) RecordAutomationRun(id string) {
	if m == nil {
		return
	}
	m.AutomationRuns.WithLabelValues(id).Inc()
}

// RecordActionInvoke records an action handler invocation.
func (m *Metrics) RecordActionInvoke(actionType string) {
	if m == nil {
		return
	}
	m.ActionInvokes.WithLabelValues(actionType).Inc()
}
