// Package notify provides the notification dispatch collaborators used by
// escalation actions. Dispatch is fire-and-forget from the engine's point of
// view: failures are reported to the caller, which records them and moves on.
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Context carries the incident and action context of one delivery.
type Context struct {
	IncidentID string         `json:"incident_id"`
	UserID     string         `json:"user_id,omitempty"`
	ActionType string         `json:"action_type"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Dispatcher delivers a message to a single recipient over one channel.
type Dispatcher interface {
	// Channel names the transport (email, sms, slack, webhook).
	Channel() string
	Deliver(ctx context.Context, recipient, message string, dctx Context) error
}

// LogDispatcher writes deliveries to the log. It is the default transport in
// development and the fallback when no real channel is configured.
type LogDispatcher struct {
	logger zerolog.Logger
	from   string
}

func NewLogDispatcher(logger zerolog.Logger, from string) *LogDispatcher {
	return &LogDispatcher{logger: logger, from: from}
}

func (d *LogDispatcher) Channel() string { return "email" }

func (d *LogDispatcher) Deliver(ctx context.Context, recipient, message string, dctx Context) error {
	d.logger.Info().
		Str("from", d.from).
		Str("recipient", recipient).
		Str("incident_id", dctx.IncidentID).
		Str("action_type", dctx.ActionType).
		Str("message", message).
		Msg("notification delivered (log transport)")
	return nil
}
