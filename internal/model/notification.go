package model

import (
	"encoding/json"
	"time"
)

// Notification channels.
const (
	ChannelEmail   = "email"
	ChannelSMS     = "sms"
	ChannelSlack   = "slack"
	ChannelWebhook = "webhook"
)

// Notification delivery statuses.
const (
	NotificationPending = "pending"
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
)

// Notification records one delivery attempt to one recipient. Rows are
// written by the recording dispatcher around the actual transport call.
type Notification struct {
	ID           string          `json:"id" db:"id"`
	IncidentID   string          `json:"incident_id" db:"incident_id"`
	UserID       *string         `json:"user_id,omitempty" db:"user_id"`
	Recipient    string          `json:"recipient" db:"recipient"`
	Message      string          `json:"message" db:"message"`
	Channel      string          `json:"channel" db:"channel"`
	Status       string          `json:"status" db:"status"`
	ActionType   string          `json:"action_type" db:"action_type"`
	Metadata     json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	SentAt       *time.Time      `json:"sent_at,omitempty" db:"sent_at"`
}
