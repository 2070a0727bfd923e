// Package activity holds the Temporal activities backing the escalation
// sweep workflow.
package activity

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/edvin/oncall/internal/core"
	"github.com/edvin/oncall/internal/escalation"
)

// Escalation contains activities that find and evaluate escalatable
// incidents.
type Escalation struct {
	incidents *core.IncidentService
	evaluator *escalation.Evaluator
	logger    zerolog.Logger
}

func NewEscalation(incidents *core.IncidentService, evaluator *escalation.Evaluator, logger zerolog.Logger) *Escalation {
	return &Escalation{incidents: incidents, evaluator: evaluator, logger: logger}
}

// EscalatableIncident identifies an incident the sweep should evaluate.
type EscalatableIncident struct {
	ID       string `json:"id"`
	Severity string `json:"severity"`
	Title    string `json:"title"`
}

// FindEscalatableIncidents lists incidents in a non-terminal status.
func (a *Escalation) FindEscalatableIncidents(ctx context.Context) ([]EscalatableIncident, error) {
	incidents, err := a.incidents.ListEscalatable(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]EscalatableIncident, 0, len(incidents))
	for _, inc := range incidents {
		out = append(out, EscalatableIncident{ID: inc.ID, Severity: inc.Severity, Title: inc.Title})
	}
	return out, nil
}

// EvaluateIncidentParams holds parameters for one evaluation pass.
type EvaluateIncidentParams struct {
	IncidentID string `json:"incident_id"`
}

// EvaluateIncident runs one escalation pass over a single incident. The
// incident is re-read inside the activity so a retry sees current state.
func (a *Escalation) EvaluateIncident(ctx context.Context, params EvaluateIncidentParams) error {
	inc, err := a.incidents.GetByID(ctx, params.IncidentID)
	if err != nil {
		return fmt.Errorf("load incident %s: %w", params.IncidentID, err)
	}
	return a.evaluator.Evaluate(ctx, inc)
}
