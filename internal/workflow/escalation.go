// Package workflow holds the Temporal workflows for the escalation sweep.
package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/oncall/internal/activity"
)

// EscalationSweepWorkflow runs on a cron schedule, finds every incident in a
// non-terminal status, and executes one escalation evaluation pass per
// incident. A failing incident is logged and skipped so the rest of the
// sweep proceeds.
func EscalationSweepWorkflow(ctx workflow.Context) error {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 2,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var incidents []activity.EscalatableIncident
	err := workflow.ExecuteActivity(ctx, "FindEscalatableIncidents").Get(ctx, &incidents)
	if err != nil {
		return err
	}

	for _, inc := range incidents {
		err := workflow.ExecuteActivity(ctx, "EvaluateIncident", activity.EvaluateIncidentParams{
			IncidentID: inc.ID,
		}).Get(ctx, nil)
		if err != nil {
			workflow.GetLogger(ctx).Warn("escalation pass failed for incident",
				"id", inc.ID, "error", err)
			continue
		}
	}

	return nil
}
