package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Condition fields recognized by policy matching. Unrecognized fields are
// ignored rather than rejected, so older policies survive vocabulary changes.
const (
	ConditionSeverity = "severity"
	ConditionService  = "service"
	ConditionTeamID   = "team_id"
)

// PolicyConditions maps a condition field to its accepted values. In stored
// JSON a field may carry either a single scalar or a list; both decode to a
// value list here.
type PolicyConditions map[string][]string

func (c *PolicyConditions) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(PolicyConditions, len(raw))
	for field, v := range raw {
		var list []string
		if err := json.Unmarshal(v, &list); err == nil {
			out[field] = list
			continue
		}
		// Scalar value. Numbers are accepted for team_id references.
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[field] = []string{s}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err == nil {
			out[field] = []string{n.String()}
			continue
		}
		return fmt.Errorf("condition %q: unsupported value %s", field, v)
	}
	*c = out
	return nil
}

// Matches reports whether the incident satisfies every condition present.
// Severity and service match as case-insensitive set membership, team_id as
// set membership on the exact ID. A policy with no conditions matches every
// incident; a team_id condition never matches an incident without a team.
func (c PolicyConditions) Matches(inc *Incident) bool {
	if accepted, ok := c[ConditionSeverity]; ok {
		if !containsFold(accepted, inc.Severity) {
			return false
		}
	}
	if accepted, ok := c[ConditionService]; ok {
		if !containsFold(accepted, inc.Service) {
			return false
		}
	}
	if accepted, ok := c[ConditionTeamID]; ok {
		if inc.TeamID == nil {
			return false
		}
		found := false
		for _, v := range accepted {
			if v == *inc.TeamID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsFold(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

type EscalationPolicy struct {
	ID          string           `json:"id" db:"id"`
	Name        string           `json:"name" db:"name"`
	Description string           `json:"description" db:"description"`
	Conditions  PolicyConditions `json:"conditions" db:"conditions"`
	Steps       []EscalationStep `json:"steps" db:"steps"`
	IsActive    bool             `json:"is_active" db:"is_active"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
}

// Matches reports whether this policy applies to the incident.
func (p *EscalationPolicy) Matches(inc *Incident) bool {
	return p.Conditions.Matches(inc)
}

// Validate rejects malformed policies at authoring time so the evaluator
// never sees them: every step needs a non-negative delay and at least one
// action with a recognized type.
func (p *EscalationPolicy) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("policy %q: at least one step is required", p.Name)
	}
	for i, step := range p.Steps {
		if step.DelayMinutes < 0 {
			return fmt.Errorf("policy %q step %d: delay_minutes must be non-negative", p.Name, i)
		}
		if len(step.Actions) == 0 {
			return fmt.Errorf("policy %q step %d: at least one action is required", p.Name, i)
		}
		for j, action := range step.Actions {
			if action.Type == "" {
				return fmt.Errorf("policy %q step %d action %d: type is required", p.Name, i, j)
			}
			if kind, _ := ParseActionKind(action.Type); kind == ActionUnknown {
				return fmt.Errorf("policy %q step %d action %d: unknown type %q", p.Name, i, j, action.Type)
			}
			for _, role := range action.TargetRoles {
				if !EscalationRole(role) {
					return fmt.Errorf("policy %q step %d action %d: unknown target role %q", p.Name, i, j, role)
				}
			}
		}
	}
	return nil
}

type EscalationStep struct {
	DelayMinutes int                `json:"delay_minutes"`
	Actions      []EscalationAction `json:"actions"`
}

// Delay returns the step's delay relative to incident creation.
func (s EscalationStep) Delay() time.Duration {
	return time.Duration(s.DelayMinutes) * time.Minute
}

type EscalationAction struct {
	Type        string   `json:"type"`
	Message     string   `json:"message,omitempty"`
	Target      string   `json:"target,omitempty"`
	Recipients  []string `json:"recipients,omitempty"`
	TargetRoles []string `json:"target_roles,omitempty"`
	AssigneeID  string   `json:"assignee_id,omitempty"`
	Status      string   `json:"status,omitempty"`
}

// ActionKind is the closed variant set the executor dispatches on. Stored
// action type strings are parsed once at step load instead of being compared
// throughout the executor.
type ActionKind int

const (
	ActionUnknown ActionKind = iota
	ActionNotify
	ActionNotifyRole
	ActionAssign
	ActionStatusChange
)

func (k ActionKind) String() string {
	switch k {
	case ActionNotify:
		return "notify"
	case ActionNotifyRole:
		return "notify_role"
	case ActionAssign:
		return "assign"
	case ActionStatusChange:
		return "status_change"
	default:
		return "unknown"
	}
}

const notifyRolePrefix = "notify_"

// ParseActionKind maps a stored action type string to its kind. For
// role-suffixed notify actions (notify_team_lead, notify_manager, ...) the
// role is returned alongside the kind.
func ParseActionKind(t string) (ActionKind, string) {
	switch t {
	case "notify":
		return ActionNotify, ""
	case "assign":
		return ActionAssign, ""
	case "status_change", "change_status":
		return ActionStatusChange, ""
	}
	if role, ok := strings.CutPrefix(t, notifyRolePrefix); ok && role != "" {
		return ActionNotifyRole, role
	}
	return ActionUnknown, ""
}
