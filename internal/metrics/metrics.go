package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the event core. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// Policy decisions by action and outcome (allow/deny/error)
	PolicyDecisions *prometheus.CounterVec

	// Lifecycle transitions by outcome (applied/noop/rejected)
	LifecycleTransitions *prometheus.CounterVec

	// Reputation processing by outcome (applied/duplicate/skipped/error)
	ReputationApplications *prometheus.CounterVec

	// Registration outcomes (approved/waitlisted/promoted/full/duplicate/denied/error)
	Registrations *prometheus.CounterVec

	// Attendance scans by resulting scan action
	Scans *prometheus.CounterVec

	// Outbox relay results (sent/failed)
	OutboxRelay *prometheus.CounterVec

	// Relay batch duration
	OutboxDrainLatency prometheus.Histogram
}

// New creates a Metrics instance registered on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PolicyDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eventcore_policy_decisions_total",
			Help: "Total policy decisions by action and outcome",
		}, []string{"action", "outcome"}),

		LifecycleTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eventcore_lifecycle_transitions_total",
			Help: "Total event status transition attempts by outcome",
		}, []string{"outcome"}),

		ReputationApplications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eventcore_reputation_applications_total",
			Help: "Total reputation processing runs by outcome",
		}, []string{"outcome"}),

		Registrations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eventcore_registrations_total",
			Help: "Total registration attempts by outcome",
		}, []string{"outcome"}),

		Scans: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eventcore_attendance_scans_total",
			Help: "Total attendance scans by result",
		}, []string{"action"}),

		OutboxRelay: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eventcore_outbox_relay_total",
			Help: "Total outbox messages relayed by result",
		}, []string{"result"}),

		OutboxDrainLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventcore_outbox_drain_duration_seconds",
			Help:    "Duration of one outbox drain pass",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
}

func (m *Metrics) PolicyDecision(action, outcome string) {
	if m != nil {
		m.PolicyDecisions.WithLabelValues(action, outcome).Inc()
	}
}

func (m *Metrics) LifecycleTransition(outcome string) {
	if m != nil {
		m.LifecycleTransitions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Reputation(outcome string) {
	if m != nil {
		m.ReputationApplications.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Registration(outcome string) {
	if m != nil {
		m.Registrations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Scan(action string) {
	if m != nil {
		m.Scans.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) Relay(result string) {
	if m != nil {
		m.OutboxRelay.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ObserveDrain(d time.Duration) {
	if m != nil {
		m.OutboxDrainLatency.Observe(d.Seconds())
	}
}
