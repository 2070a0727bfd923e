package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edvin/oncall/internal/escalation"
	"github.com/edvin/oncall/internal/model"
	"github.com/edvin/oncall/internal/platform"
)

const pgUniqueViolation = "23505"

const eventColumns = `id, incident_id, policy_id, step, status, triggered_at, completed_at, metadata`

// EventService is the escalation event ledger. A unique index on
// (incident_id, policy_id, step) guarantees at most one row per step; claim
// contention surfaces as escalation.ErrStepAlreadyClaimed.
type EventService struct {
	db DB
}

func NewEventService(db DB) *EventService {
	return &EventService{db: db}
}

func scanEvent(row pgx.Row) (*model.EscalationEvent, error) {
	var ev model.EscalationEvent
	var meta []byte
	err := row.Scan(&ev.ID, &ev.IncidentID, &ev.PolicyID, &ev.Step, &ev.Status,
		&ev.TriggeredAt, &ev.CompletedAt, &meta)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
			return nil, fmt.Errorf("decode event metadata: %w", err)
		}
	}
	return &ev, nil
}

// GetProcessedSteps returns the step indices with a pending or completed
// event for the incident/policy pair. Failed steps are omitted so the next
// pass retries them.
func (s *EventService) GetProcessedSteps(ctx context.Context, incidentID, policyID string) (map[int]struct{}, error) {
	rows, err := s.db.Query(ctx,
		`SELECT step FROM escalation_events
		 WHERE incident_id = $1 AND policy_id = $2 AND status != 'failed'`,
		incidentID, policyID,
	)
	if err != nil {
		return nil, fmt.Errorf("get processed steps: %w", err)
	}
	defer rows.Close()

	steps := map[int]struct{}{}
	for rows.Next() {
		var step int
		if err := rows.Scan(&step); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps[step] = struct{}{}
	}
	return steps, rows.Err()
}

// GetNotifiedUserIDs returns the users recorded as targeted by prior attempts
// of the exact step.
func (s *EventService) GetNotifiedUserIDs(ctx context.Context, incidentID, policyID string, step int) (map[string]struct{}, error) {
	var meta []byte
	err := s.db.QueryRow(ctx,
		`SELECT metadata FROM escalation_events
		 WHERE incident_id = $1 AND policy_id = $2 AND step = $3`,
		incidentID, policyID, step,
	).Scan(&meta)
	if errors.Is(err, pgx.ErrNoRows) {
		return map[string]struct{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notified users: %w", err)
	}

	var m model.EventMetadata
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &m); err != nil {
			return nil, fmt.Errorf("decode event metadata: %w", err)
		}
	}

	notified := map[string]struct{}{}
	for _, id := range m.TargetUserIDs() {
		notified[id] = struct{}{}
	}
	return notified, nil
}

// CreatePending claims the (incident, policy, step) tuple. A fresh tuple
// inserts a pending row. A tuple whose row is failed is reclaimed atomically,
// merging the new metadata over the old so prior target_users survive. Any
// other state means a concurrent evaluator owns the step.
func (s *EventService) CreatePending(ctx context.Context, incidentID, policyID string, step int, meta model.EventMetadata) (*model.EscalationEvent, error) {
	encoded, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode event metadata: %w", err)
	}

	ev := &model.EscalationEvent{
		ID:          platform.NewID(),
		IncidentID:  incidentID,
		PolicyID:    policyID,
		Step:        step,
		Status:      model.EventPending,
		TriggeredAt: time.Now(),
		Metadata:    meta,
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO escalation_events (id, incident_id, policy_id, step, status, triggered_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.IncidentID, ev.PolicyID, ev.Step, ev.Status, ev.TriggeredAt, encoded,
	)
	if err == nil {
		return ev, nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return nil, fmt.Errorf("create pending event: %w", err)
	}

	// The tuple exists. Reclaim it only if the prior attempt failed; the
	// WHERE clause makes the claim atomic under concurrent evaluators.
	reclaimed, err := scanEvent(s.db.QueryRow(ctx,
		`UPDATE escalation_events
		 SET status = 'pending', triggered_at = $1, metadata = metadata || $2
		 WHERE incident_id = $3 AND policy_id = $4 AND step = $5 AND status = 'failed'
		 RETURNING `+eventColumns,
		time.Now(), encoded, incidentID, policyID, step,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, escalation.ErrStepAlreadyClaimed
	}
	if err != nil {
		return nil, fmt.Errorf("reclaim failed event: %w", err)
	}
	return reclaimed, nil
}

// Complete marks a pending event completed, merging the patch into metadata.
func (s *EventService) Complete(ctx context.Context, ev *model.EscalationEvent, patch model.EventMetadata) error {
	return s.finish(ctx, ev, model.EventCompleted, patch)
}

// Fail marks a pending event failed, recording the error in metadata.
func (s *EventService) Fail(ctx context.Context, ev *model.EscalationEvent, errText string, patch model.EventMetadata) error {
	patch = patch.Merge(model.EventMetadata{model.MetaError: errText})
	return s.finish(ctx, ev, model.EventFailed, patch)
}

func (s *EventService) finish(ctx context.Context, ev *model.EscalationEvent, status string, patch model.EventMetadata) error {
	ev.Metadata = ev.Metadata.Merge(patch)
	encoded, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("encode event metadata: %w", err)
	}

	now := time.Now()
	_, err = s.db.Exec(ctx,
		`UPDATE escalation_events SET status = $1, completed_at = $2, metadata = $3 WHERE id = $4`,
		status, now, encoded, ev.ID,
	)
	if err != nil {
		return fmt.Errorf("finish event: %w", err)
	}

	ev.Status = status
	ev.CompletedAt = &now
	return nil
}

// ListByIncident returns an incident's escalation events, oldest first.
func (s *EventService) ListByIncident(ctx context.Context, incidentID string) ([]model.EscalationEvent, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+eventColumns+`
		 FROM escalation_events WHERE incident_id = $1
		 ORDER BY triggered_at ASC, step ASC`, incidentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list events by incident: %w", err)
	}
	defer rows.Close()

	var events []model.EscalationEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// List returns escalation events across incidents, newest first, paginated.
func (s *EventService) List(ctx context.Context, status string, limit int, cursor string) ([]model.EscalationEvent, bool, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `SELECT ` + eventColumns + ` FROM escalation_events`
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
		query += fmt.Sprintf(" %s triggered_at < (SELECT triggered_at FROM escalation_events WHERE id = $%d)", clause, argN)
		args = append(args, cursor)
		argN++
	}

	query += fmt.Sprintf(" ORDER BY triggered_at DESC LIMIT $%d", argN)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.EscalationEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *ev)
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}
	return events, hasMore, nil
}
