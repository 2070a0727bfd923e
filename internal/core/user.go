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

const userColumns = `id, email, full_name, phone_number, role, team_id, is_active, created_at, updated_at`

type UserService struct {
	db DB
}

func NewUserService(db DB) *UserService {
	return &UserService{db: db}
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.PhoneNumber, &u.Role,
		&u.TeamID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create creates a user.
func (s *UserService) Create(ctx context.Context, u *model.User) error {
	u.ID = platform.NewName("usr")
	now := time.Now()
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	u.IsActive = true
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.Exec(ctx,
		`INSERT INTO users (id, email, full_name, phone_number, role, team_id, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.Email, u.FullName, u.PhoneNumber, u.Role, u.TeamID, u.IsActive, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetByID returns a user by ID.
func (s *UserService) GetByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
	))
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// FindByID returns a user by ID, or nil when no such user exists. The
// escalation resolver treats a miss as an empty target, not an error.
func (s *UserService) FindByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return u, nil
}

// FindByEmail returns a user by email, or nil when no such user exists.
func (s *UserService) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return u, nil
}

// ListByRoleAndTeam returns active users holding the role on the team.
func (s *UserService) ListByRoleAndTeam(ctx context.Context, role, teamID string) ([]model.User, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+userColumns+`
		 FROM users WHERE role = $1 AND team_id = $2 AND is_active
		 ORDER BY created_at ASC`,
		role, teamID,
	)
	if err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// List returns users, optionally filtered by team and role, paginated.
func (s *UserService) List(ctx context.Context, teamID, role string, limit int, cursor string) ([]model.User, bool, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `SELECT ` + userColumns + ` FROM users`
	var conditions []string
	var args []any
	argN := 1

	if teamID != "" {
		conditions = append(conditions, fmt.Sprintf("team_id = $%d", argN))
		args = append(args, teamID)
		argN++
	}
	if role != "" {
		conditions = append(conditions, fmt.Sprintf("role = $%d", argN))
		args = append(args, role)
		argN++
	}
	if cursor != "" {
		conditions = append(conditions, fmt.Sprintf("created_at < (SELECT created_at FROM users WHERE id = $%d)", argN))
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
		return nil, false, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}

	hasMore := len(users) > limit
	if hasMore {
		users = users[:limit]
	}
	return users, hasMore, nil
}

// Update updates mutable fields on a user.
func (s *UserService) Update(ctx context.Context, id string, fullName, phoneNumber, role, teamID *string, isActive *bool) (*model.User, error) {
	var sets []string
	var args []any
	argN := 1

	if fullName != nil {
		sets = append(sets, fmt.Sprintf("full_name = $%d", argN))
		args = append(args, *fullName)
		argN++
	}
	if phoneNumber != nil {
		sets = append(sets, fmt.Sprintf("phone_number = $%d", argN))
		args = append(args, *phoneNumber)
		argN++
	}
	if role != nil {
		sets = append(sets, fmt.Sprintf("role = $%d", argN))
		args = append(args, *role)
		argN++
	}
	if teamID != nil {
		sets = append(sets, fmt.Sprintf("team_id = $%d", argN))
		args = append(args, *teamID)
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
		"UPDATE users SET %s WHERE id = $%d RETURNING "+userColumns,
		strings.Join(sets, ", "), argN,
	)

	u, err := scanUser(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return u, nil
}

// Delete deactivates a user. Rows are kept so historical escalation events
// keep resolving to a name.
func (s *UserService) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE users SET is_active = false, updated_at = $1 WHERE id = $2`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
