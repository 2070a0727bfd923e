package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/edvin/oncall/internal/metrics"
	"github.com/edvin/oncall/internal/model"
)

// Recorder persists notification rows around transport calls. Implemented by
// the notification service.
type Recorder interface {
	RecordPending(ctx context.Context, n *model.Notification) error
	RecordSent(ctx context.Context, id string) error
	RecordFailed(ctx context.Context, id, errMsg string) error
}

// RecordingDispatcher wraps a transport and writes a notification row for
// every delivery: pending before the call, sent or failed after. Recording
// failures are returned in preference to silently losing the audit trail,
// but a transport failure wins if both occur.
type RecordingDispatcher struct {
	inner    Dispatcher
	recorder Recorder
}

func NewRecordingDispatcher(inner Dispatcher, recorder Recorder) *RecordingDispatcher {
	return &RecordingDispatcher{inner: inner, recorder: recorder}
}

func (d *RecordingDispatcher) Channel() string { return d.inner.Channel() }

func (d *RecordingDispatcher) Deliver(ctx context.Context, recipient, message string, dctx Context) error {
	n := &model.Notification{
		IncidentID: dctx.IncidentID,
		Recipient:  recipient,
		Message:    message,
		Channel:    d.inner.Channel(),
		ActionType: dctx.ActionType,
	}
	if dctx.UserID != "" {
		n.UserID = &dctx.UserID
	}
	if len(dctx.Metadata) > 0 {
		raw, err := json.Marshal(dctx.Metadata)
		if err != nil {
			return fmt.Errorf("marshal notification metadata: %w", err)
		}
		n.Metadata = raw
	}

	if err := d.recorder.RecordPending(ctx, n); err != nil {
		return fmt.Errorf("record pending notification: %w", err)
	}

	if err := d.inner.Deliver(ctx, recipient, message, dctx); err != nil {
		_ = d.recorder.RecordFailed(ctx, n.ID, err.Error())
		return err
	}

	metrics.NotificationsSent.WithLabelValues(d.inner.Channel()).Inc()
	return d.recorder.RecordSent(ctx, n.ID)
}
