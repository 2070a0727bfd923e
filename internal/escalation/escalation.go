// Package escalation implements the policy-driven escalation engine: given
// an incident, it finds the matching active policies, determines which
// time-gated step of each policy is due, executes that step's actions
// exactly once, and records the outcome as an escalation event.
//
// The engine owns no storage or transport. It is wired with the small
// interfaces below; the pgx-backed services implement them in production and
// in-memory fakes implement them in tests.
package escalation

import (
	"context"
	"errors"

	"github.com/edvin/oncall/internal/model"
)

// ErrStepAlreadyClaimed is returned by EventLedger.CreatePending when
// another evaluator holds the (incident, policy, step) tuple. The caller
// must not execute the step's actions.
var ErrStepAlreadyClaimed = errors.New("escalation step already claimed")

// IncidentStore is the engine's view of incident state: reads, status
// transitions requested by status_change actions, and assignments.
type IncidentStore interface {
	GetByID(ctx context.Context, id string) (*model.Incident, error)
	UpdateStatus(ctx context.Context, id, status string) (*model.Incident, error)
	ListAssignedUsers(ctx context.Context, incidentID string) ([]model.User, error)
	GetAssignment(ctx context.Context, incidentID, userID string) (*model.IncidentAssignment, error)
	CreateAssignment(ctx context.Context, incidentID, userID string) (*model.IncidentAssignment, error)
}

// PolicyStore provides read-only access to active escalation policies.
type PolicyStore interface {
	GetActivePolicies(ctx context.Context) ([]model.EscalationPolicy, error)
}

// EventLedger is the durable record of escalation attempts and the source of
// truth for what has already run.
type EventLedger interface {
	// GetProcessedSteps returns the step indices that must not be re-entered
	// for this incident/policy pair: steps with a pending or completed event.
	// Failed steps are omitted so the next pass can retry them.
	GetProcessedSteps(ctx context.Context, incidentID, policyID string) (map[int]struct{}, error)

	// GetNotifiedUserIDs returns the users recorded as targeted by prior
	// attempts of this exact step, for per-user de-duplication on retry.
	GetNotifiedUserIDs(ctx context.Context, incidentID, policyID string, step int) (map[string]struct{}, error)

	// CreatePending atomically claims the (incident, policy, step) tuple and
	// returns the pending event. Returns ErrStepAlreadyClaimed when a
	// concurrent evaluator got there first.
	CreatePending(ctx context.Context, incidentID, policyID string, step int, meta model.EventMetadata) (*model.EscalationEvent, error)

	Complete(ctx context.Context, ev *model.EscalationEvent, patch model.EventMetadata) error
	Fail(ctx context.Context, ev *model.EscalationEvent, errText string, patch model.EventMetadata) error
}

// UserDirectory resolves recipient descriptors to users. Lookup misses are
// (nil, nil) / empty results, not errors: an unresolvable target degrades to
// "nobody notified", never a failed step.
type UserDirectory interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	ListByRoleAndTeam(ctx context.Context, role, teamID string) ([]model.User, error)
}
