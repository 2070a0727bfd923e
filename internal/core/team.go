package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/oncall/internal/model"
	"github.com/edvin/oncall/internal/platform"
)

type TeamService struct {
	db DB
}

func NewTeamService(db DB) *TeamService {
	return &TeamService{db: db}
}

// Create creates a team.
func (s *TeamService) Create(ctx context.Context, t *model.Team) error {
	t.ID = platform.NewName("team")
	now := time.Now()
	t.IsActive = true
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.db.Exec(ctx,
		`INSERT INTO teams (id, name, description, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.Name, t.Description, t.IsActive, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create team: %w", err)
	}
	return nil
}

// GetByID returns a team by ID.
func (s *TeamService) GetByID(ctx context.Context, id string) (*model.Team, error) {
	var t model.Team
	err := s.db.QueryRow(ctx,
		`SELECT id, name, description, is_active, created_at, updated_at
		 FROM teams WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Description, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get team: %w", err)
	}
	return &t, nil
}

// List returns all teams, active first.
func (s *TeamService) List(ctx context.Context) ([]model.Team, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, name, description, is_active, created_at, updated_at
		 FROM teams ORDER BY is_active DESC, name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	var teams []model.Team
	for rows.Next() {
		var t model.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

// Update updates mutable fields on a team.
func (s *TeamService) Update(ctx context.Context, id string, name, description *string, isActive *bool) (*model.Team, error) {
	var sets []string
	var args []any
	argN := 1

	if name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", argN))
		args = append(args, *name)
		argN++
	}
	if description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", argN))
		args = append(args, *description)
		argN++
	}
	if isActive != nil {
		sets = append(sets, fmt.Sprintf("is_active = $%d", argN))
		args = append(args, *isActive)
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
		`UPDATE teams SET %s WHERE id = $%d
		 RETURNING id, name, description, is_active, created_at, updated_at`,
		strings.Join(sets, ", "), argN,
	)

	var t model.Team
	err := s.db.QueryRow(ctx, query, args...).
		Scan(&t.ID, &t.Name, &t.Description, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update team: %w", err)
	}
	return &t, nil
}

// Delete deactivates a team.
func (s *TeamService) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE teams SET is_active = false, updated_at = $1 WHERE id = $2`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("delete team: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
