package model

import "time"

// User roles. The escalation roles (everything between user and admin) can be
// targeted by recipient descriptors and notify_<role> actions.
const (
	RoleUser           = "user"
	RoleOncallEngineer = "oncall_engineer"
	RoleTeamLead       = "team_lead"
	RoleManager        = "manager"
	RoleVP             = "vp"
	RoleCTO            = "cto"
	RoleAdmin          = "admin"
)

var escalationRoles = map[string]bool{
	RoleOncallEngineer: true,
	RoleTeamLead:       true,
	RoleManager:        true,
	RoleVP:             true,
	RoleCTO:            true,
}

// EscalationRole reports whether s is a role keyword recognized by the
// target resolver.
func EscalationRole(s string) bool {
	return escalationRoles[s]
}

type User struct {
	ID          string    `json:"id" db:"id"`
	Email       string    `json:"email" db:"email"`
	FullName    string    `json:"full_name" db:"full_name"`
	PhoneNumber *string   `json:"phone_number,omitempty" db:"phone_number"`
	Role        string    `json:"role" db:"role"`
	TeamID      *string   `json:"team_id,omitempty" db:"team_id"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

type Team struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
