package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Incident severities.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Incident statuses.
const (
	IncidentTriggered    = "triggered"
	IncidentAcknowledged = "acknowledged"
	IncidentResolved     = "resolved"
	IncidentSnoozed      = "snoozed"
)

var incidentStatuses = map[string]string{
	"triggered":    IncidentTriggered,
	"acknowledged": IncidentAcknowledged,
	"resolved":     IncidentResolved,
	"snoozed":      IncidentSnoozed,
}

// LookupIncidentStatus resolves a status name case-insensitively against the
// incident status vocabulary. Used by status_change escalation actions.
func LookupIncidentStatus(name string) (string, bool) {
	s, ok := incidentStatuses[strings.ToLower(name)]
	return s, ok
}

// Escalatable reports whether an incident in the given status is eligible
// for escalation. Resolved and snoozed incidents never escalate.
func Escalatable(status string) bool {
	return status != IncidentResolved && status != IncidentSnoozed
}

type Incident struct {
	ID             string          `json:"id" db:"id"`
	Title          string          `json:"title" db:"title"`
	Description    string          `json:"description" db:"description"`
	Status         string          `json:"status" db:"status"`
	Severity       string          `json:"severity" db:"severity"`
	Service        string          `json:"service" db:"service"`
	TeamID         *string         `json:"team_id,omitempty" db:"team_id"`
	Source         string          `json:"source" db:"source"`
	AlertID        *string         `json:"alert_id,omitempty" db:"alert_id"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
	SnoozedUntil   *time.Time      `json:"snoozed_until,omitempty" db:"snoozed_until"`
	Metadata       json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// Age returns how long the incident has existed at the given instant.
func (i *Incident) Age(now time.Time) time.Duration {
	return now.Sub(i.CreatedAt)
}

type IncidentAssignment struct {
	ID         string    `json:"id" db:"id"`
	IncidentID string    `json:"incident_id" db:"incident_id"`
	UserID     string    `json:"user_id" db:"user_id"`
	AssignedAt time.Time `json:"assigned_at" db:"assigned_at"`
}
