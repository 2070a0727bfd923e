package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/oncall/internal/model"
	"github.com/edvin/oncall/internal/platform"
)

const incidentColumns = `id, title, description, status, severity, service, team_id, source,
	        alert_id, acknowledged_at, resolved_at, snoozed_until, metadata, created_at, updated_at`

type IncidentService struct {
	db DB
}

func NewIncidentService(db DB) *IncidentService {
	return &IncidentService{db: db}
}

func scanIncident(row pgx.Row) (*model.Incident, error) {
	var inc model.Incident
	err := row.Scan(&inc.ID, &inc.Title, &inc.Description, &inc.Status, &inc.Severity,
		&inc.Service, &inc.TeamID, &inc.Source, &inc.AlertID,
		&inc.AcknowledgedAt, &inc.ResolvedAt, &inc.SnoozedUntil,
		&inc.Metadata, &inc.CreatedAt, &inc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

// Create creates an incident, or returns the existing open one when alert_id
// matches an incident that is not yet resolved. Returns the incident and true
// if it was newly created.
func (s *IncidentService) Create(ctx context.Context, inc *model.Incident) (bool, error) {
	if inc.AlertID != nil && *inc.AlertID != "" {
		existing, err := scanIncident(s.db.QueryRow(ctx,
			`SELECT `+incidentColumns+`
			 FROM incidents WHERE alert_id = $1 AND status != 'resolved'`,
			*inc.AlertID,
		))
		if err == nil {
			*inc = *existing
			return false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("check alert dedupe: %w", err)
		}
	}

	inc.ID = platform.NewName("inc")
	now := time.Now()
	if inc.Status == "" {
		inc.Status = model.IncidentTriggered
	}
	if inc.Severity == "" {
		inc.Severity = model.SeverityMedium
	}
	if inc.Metadata == nil {
		inc.Metadata = []byte("{}")
	}
	inc.CreatedAt = now
	inc.UpdatedAt = now

	_, err := s.db.Exec(ctx,
		`INSERT INTO incidents (id, title, description, status, severity, service, team_id,
		                        source, alert_id, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		inc.ID, inc.Title, inc.Description, inc.Status, inc.Severity, inc.Service,
		inc.TeamID, inc.Source, inc.AlertID, inc.Metadata, inc.CreatedAt, inc.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("create incident: %w", err)
	}
	return true, nil
}

// GetByID returns an incident by ID.
func (s *IncidentService) GetByID(ctx context.Context, id string) (*model.Incident, error) {
	inc, err := scanIncident(s.db.QueryRow(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id,
	))
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

// List returns incidents with optional filters, paginated.
func (s *IncidentService) List(ctx context.Context, filters IncidentFilters, limit int, cursor string) ([]model.Incident, bool, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `SELECT ` + incidentColumns + ` FROM incidents`

	var conditions []string
	var args []any
	argN := 1

	if filters.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argN))
		args = append(args, filters.Status)
		argN++
	}
	if filters.Severity != "" {
		conditions = append(conditions, fmt.Sprintf("severity = $%d", argN))
		args = append(args, filters.Severity)
		argN++
	}
	if filters.Service != "" {
		conditions = append(conditions, fmt.Sprintf("service = $%d", argN))
		args = append(args, filters.Service)
		argN++
	}
	if filters.TeamID != "" {
		conditions = append(conditions, fmt.Sprintf("team_id = $%d", argN))
		args = append(args, filters.TeamID)
		argN++
	}
	if cursor != "" {
		conditions = append(conditions, fmt.Sprintf("created_at < (SELECT created_at FROM incidents WHERE id = $%d)", argN))
		args = append(args, cursor)
		argN++
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argN)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var incidents []model.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, *inc)
	}

	hasMore := len(incidents) > limit
	if hasMore {
		incidents = incidents[:limit]
	}
	return incidents, hasMore, nil
}

// ListEscalatable returns incidents that the escalation sweep should look at:
// everything not resolved and not currently snoozed. A snoozed incident whose
// snooze window has lapsed is swept again.
func (s *IncidentService) ListEscalatable(ctx context.Context) ([]model.Incident, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+incidentColumns+`
		 FROM incidents
		 WHERE status NOT IN ('resolved', 'snoozed')
		    OR (status = 'snoozed' AND snoozed_until IS NOT NULL AND snoozed_until <= now())
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list escalatable incidents: %w", err)
	}
	defer rows.Close()

	var incidents []model.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, *inc)
	}
	return incidents, rows.Err()
}

// UpdateStatus transitions an incident and stamps the matching timestamp
// column. Moving out of snoozed clears snoozed_until.
func (s *IncidentService) UpdateStatus(ctx context.Context, id, status string) (*model.Incident, error) {
	now := time.Now()

	sets := []string{"status = $1", "updated_at = $2"}
	args := []any{status, now}
	argN := 3

	switch status {
	case model.IncidentAcknowledged:
		sets = append(sets, fmt.Sprintf("acknowledged_at = $%d", argN))
		args = append(args, now)
		argN++
	case model.IncidentResolved:
		sets = append(sets, fmt.Sprintf("resolved_at = $%d", argN))
		args = append(args, now)
		argN++
	}
	if status != model.IncidentSnoozed {
		sets = append(sets, "snoozed_until = NULL")
	}

	args = append(args, id)
	query := fmt.Sprintf(
		"UPDATE incidents SET %s WHERE id = $%d RETURNING "+incidentColumns,
		strings.Join(sets, ", "), argN,
	)

	inc, err := scanIncident(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("update incident status: %w", err)
	}
	return inc, nil
}

// Snooze puts an incident to sleep until the given time.
func (s *IncidentService) Snooze(ctx context.Context, id string, until time.Time) (*model.Incident, error) {
	inc, err := scanIncident(s.db.QueryRow(ctx,
		`UPDATE incidents SET status = $1, snoozed_until = $2, updated_at = $3
		 WHERE id = $4 RETURNING `+incidentColumns,
		model.IncidentSnoozed, until, time.Now(), id,
	))
	if err != nil {
		return nil, fmt.Errorf("snooze incident: %w", err)
	}
	return inc, nil
}

// Update updates mutable descriptive fields on an incident.
func (s *IncidentService) Update(ctx context.Context, id string, title, description, severity, service *string) (*model.Incident, error) {
	var sets []string
	var args []any
	argN := 1

	if title != nil {
		sets = append(sets, fmt.Sprintf("title = $%d", argN))
		args = append(args, *title)
		argN++
	}
	if description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", argN))
		args = append(args, *description)
		argN++
	}
	if severity != nil {
		sets = append(sets, fmt.Sprintf("severity = $%d", argN))
		args = append(args, *severity)
		argN++
	}
	if service != nil {
		sets = append(sets, fmt.Sprintf("service = $%d", argN))
		args = append(args, *service)
		argN++
	}
	if len(sets) == 0 {
		return s.GetByID(ctx, id)
	}

	sets = append(sets, fmt.Sprintf("updated_at = $%d", argN))
	args = append(args, time.Now())
	argN++

	args = append(args, id)
	query := fmt.Sprintf(
		"UPDATE incidents SET %s WHERE id = $%d RETURNING "+incidentColumns,
		strings.Join(sets, ", "), argN,
	)

	inc, err := scanIncident(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("update incident: %w", err)
	}
	return inc, nil
}

// Delete removes an incident and, through cascading constraints, its
// assignments, escalation events, and notifications.
func (s *IncidentService) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM incidents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// GetAssignment returns the assignment row for the pair, or nil when absent.
func (s *IncidentService) GetAssignment(ctx context.Context, incidentID, userID string) (*model.IncidentAssignment, error) {
	var a model.IncidentAssignment
	err := s.db.QueryRow(ctx,
		`SELECT id, incident_id, user_id, assigned_at
		 FROM incident_assignments WHERE incident_id = $1 AND user_id = $2`,
		incidentID, userID,
	).Scan(&a.ID, &a.IncidentID, &a.UserID, &a.AssignedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return &a, nil
}

// CreateAssignment assigns a user to an incident. Repeat assignment of the
// same pair returns the existing row.
func (s *IncidentService) CreateAssignment(ctx context.Context, incidentID, userID string) (*model.IncidentAssignment, error) {
	a := model.IncidentAssignment{
		ID:         platform.NewID(),
		IncidentID: incidentID,
		UserID:     userID,
		AssignedAt: time.Now(),
	}
	tag, err := s.db.Exec(ctx,
		`INSERT INTO incident_assignments (id, incident_id, user_id, assigned_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (incident_id, user_id) DO NOTHING`,
		a.ID, a.IncidentID, a.UserID, a.AssignedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.GetAssignment(ctx, incidentID, userID)
	}
	return &a, nil
}

// ListAssignedUsers returns the users currently assigned to an incident.
func (s *IncidentService) ListAssignedUsers(ctx context.Context, incidentID string) ([]model.User, error) {
	rows, err := s.db.Query(ctx,
		`SELECT u.id, u.email, u.full_name, u.phone_number, u.role, u.team_id,
		        u.is_active, u.created_at, u.updated_at
		 FROM users u
		 JOIN incident_assignments a ON a.user_id = u.id
		 WHERE a.incident_id = $1
		 ORDER BY a.assigned_at ASC`, incidentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list assigned users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.FullName, &u.PhoneNumber, &u.Role,
			&u.TeamID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan assigned user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// IncidentFilters holds optional filters for listing incidents.
type IncidentFilters struct {
	Status   string
	Severity string
	Service  string
	TeamID   string
}
