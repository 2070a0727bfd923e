package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/oncall/internal/model"
	"github.com/edvin/oncall/internal/platform"
)

const notificationColumns = `id, incident_id, user_id, recipient, message, channel, status,
	        action_type, metadata, error_message, created_at, sent_at`

// NotificationService persists the notification audit trail. It backs the
// recording dispatcher and the read API.
type NotificationService struct {
	db DB
}

func NewNotificationService(db DB) *NotificationService {
	return &NotificationService{db: db}
}

func scanNotification(row pgx.Row) (*model.Notification, error) {
	var n model.Notification
	err := row.Scan(&n.ID, &n.IncidentID, &n.UserID, &n.Recipient, &n.Message,
		&n.Channel, &n.Status, &n.ActionType, &n.Metadata, &n.ErrorMessage,
		&n.CreatedAt, &n.SentAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// RecordPending inserts a pending notification row before the transport call.
func (s *NotificationService) RecordPending(ctx context.Context, n *model.Notification) error {
	n.ID = platform.NewID()
	n.Status = model.NotificationPending
	n.CreatedAt = time.Now()
	if n.Metadata == nil {
		n.Metadata = []byte("{}")
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO notifications (id, incident_id, user_id, recipient, message, channel,
		                            status, action_type, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		n.ID, n.IncidentID, n.UserID, n.Recipient, n.Message, n.Channel,
		n.Status, n.ActionType, n.Metadata, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record pending notification: %w", err)
	}
	return nil
}

// RecordSent marks a notification delivered.
func (s *NotificationService) RecordSent(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE notifications SET status = $1, sent_at = $2 WHERE id = $3`,
		model.NotificationSent, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("record sent notification: %w", err)
	}
	return nil
}

// RecordFailed marks a notification failed with the transport error.
func (s *NotificationService) RecordFailed(ctx context.Context, id, errMsg string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE notifications SET status = $1, error_message = $2 WHERE id = $3`,
		model.NotificationFailed, errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("record failed notification: %w", err)
	}
	return nil
}

// ListByIncident returns an incident's notifications, oldest first.
func (s *NotificationService) ListByIncident(ctx context.Context, incidentID string) ([]model.Notification, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+notificationColumns+`
		 FROM notifications WHERE incident_id = $1
		 ORDER BY created_at ASC`, incidentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications by incident: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, *n)
	}
	return notifications, rows.Err()
}

// List returns notifications, optionally filtered by status, newest first.
func (s *NotificationService) List(ctx context.Context, status string, limit int, cursor string) ([]model.Notification, bool, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `SELECT ` + notificationColumns + ` FROM notifications`
	var args []any
	argN := 1

	if status != "" {
		query += fmt.Sprintf(" WHERE status = $%d", argN)
		args = append(args, status)
		argN++
	}
	if cursor != "" {
		clause := "WHERE"
		if status != "" {
			clause = "AND"
		}
		query += fmt.Sprintf(" %s created_at < (SELECT created_at FROM notifications WHERE id = $%d)", clause, argN)
		args = append(args, cursor)
		argN++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argN)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, *n)
	}

	hasMore := len(notifications) > limit
	if hasMore {
		notifications = notifications[:limit]
	}
	return notifications, hasMore, nil
}
