package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Escalation engine counters. Labels stay low-cardinality: policy names are
// operator-chosen and bounded.
var (
	EscalationStepsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escalation_steps_completed_total",
			Help: "Escalation steps that completed all actions",
		},
		[]string{"policy"},
	)

	EscalationStepsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escalation_steps_failed_total",
			Help: "Escalation steps that failed at least one action",
		},
		[]string{"policy"},
	)

	EscalationStepsLost = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "escalation_step_claims_lost_total",
			Help: "Step claims lost to a concurrent evaluator",
		},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escalation_notifications_sent_total",
			Help: "Notifications dispatched by escalation actions",
		},
		[]string{"channel"},
	)

	NotificationsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "escalation_notifications_deduplicated_total",
			Help: "Notifications skipped because the user was already notified for the step",
		},
	)
)
