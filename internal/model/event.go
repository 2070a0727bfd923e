package model

import "time"

// Escalation event statuses. pending → completed | failed; completed is
// terminal, failed may be retried by a later evaluation pass.
const (
	EventPending   = "pending"
	EventCompleted = "completed"
	EventFailed    = "failed"
)

// Metadata keys the engine itself reads or writes. Everything else in the
// map is free-form and passes through untouched.
const (
	MetaPolicyName           = "policy_name"
	MetaPolicyDescription    = "policy_description"
	MetaSeverity             = "severity"
	MetaService              = "service"
	MetaIncidentAgeMinutes   = "incident_age_minutes"
	MetaDelayMinutes         = "delay_minutes"
	MetaTriggeredBy          = "triggered_by"
	MetaTriggeredFor         = "triggered_for"
	MetaTargetUsers          = "target_users"
	MetaAlreadyNotifiedUsers = "already_notified_users"
	MetaNewNotifications     = "new_notifications"
	MetaError                = "error"
)

// EventMetadata is the open key-value bag persisted with each escalation
// event. Stored as JSONB.
type EventMetadata map[string]any

// Merge copies the patch into a new map without mutating the receiver.
func (m EventMetadata) Merge(patch EventMetadata) EventMetadata {
	out := make(EventMetadata, len(m)+len(patch))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// TargetUserIDs extracts the user IDs recorded under target_users. It
// tolerates both the in-process representation ([]TargetUser) and the shape
// that comes back from JSONB decoding ([]any of map[string]any).
func (m EventMetadata) TargetUserIDs() []string {
	raw, ok := m[MetaTargetUsers]
	if !ok {
		return nil
	}

	var ids []string
	switch users := raw.(type) {
	case []TargetUser:
		for _, u := range users {
			ids = append(ids, u.ID)
		}
	case []any:
		for _, entry := range users {
			if obj, ok := entry.(map[string]any); ok {
				if id, ok := obj["id"].(string); ok {
					ids = append(ids, id)
				}
			}
		}
	}
	return ids
}

// TargetUser is the resolved-recipient record written into event metadata.
type TargetUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// EscalationEvent is the durable record of one (incident, policy, step)
// execution attempt. The store enforces uniqueness on that tuple, which is
// what makes step execution idempotent under concurrent evaluation.
type EscalationEvent struct {
	ID          string        `json:"id" db:"id"`
	IncidentID  string        `json:"incident_id" db:"incident_id"`
	PolicyID    string        `json:"policy_id" db:"policy_id"`
	Step        int           `json:"step" db:"step"`
	Status      string        `json:"status" db:"status"`
	TriggeredAt time.Time     `json:"triggered_at" db:"triggered_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	Metadata    EventMetadata `json:"metadata" db:"metadata"`
}
