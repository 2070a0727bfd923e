package request

import "encoding/json"

type CreateIncident struct {
	Title       string          `json:"title" validate:"required,max=256"`
	Description string          `json:"description"`
	Severity    string          `json:"severity" validate:"omitempty,oneof=critical high medium low"`
	Service     string          `json:"service"`
	TeamID      *string         `json:"team_id"`
	Source      string          `json:"source"`
	AlertID     *string         `json:"alert_id"`
	Metadata    json.RawMessage `json:"metadata"`
}

type UpdateIncident struct {
	Title       *string `json:"title" validate:"omitempty,max=256"`
	Description *string `json:"description"`
	Severity    *string `json:"severity" validate:"omitempty,oneof=critical high medium low"`
	Service     *string `json:"service"`
	Status      *string `json:"status" validate:"omitempty,oneof=triggered acknowledged resolved"`
}

type SnoozeIncident struct {
	Minutes int `json:"minutes" validate:"required,gt=0,lte=10080"`
}

type AssignIncident struct {
	UserID string `json:"user_id" validate:"required"`
}
