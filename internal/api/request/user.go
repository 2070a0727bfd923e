package request

type CreateUser struct {
	Email       string  `json:"email" validate:"required,email"`
	FullName    string  `json:"full_name" validate:"required,max=256"`
	PhoneNumber *string `json:"phone_number"`
	Role        string  `json:"role" validate:"omitempty,oneof=user oncall_engineer team_lead manager vp cto admin"`
	TeamID      *string `json:"team_id"`
}

type UpdateUser struct {
	FullName    *string `json:"full_name" validate:"omitempty,max=256"`
	PhoneNumber *string `json:"phone_number"`
	Role        *string `json:"role" validate:"omitempty,oneof=user oncall_engineer team_lead manager vp cto admin"`
	TeamID      *string `json:"team_id"`
	IsActive    *bool   `json:"is_active"`
}

type CreateTeam struct {
	Name        string `json:"name" validate:"required,max=128"`
	Description string `json:"description"`
}

type UpdateTeam struct {
	Name        *string `json:"name" validate:"omitempty,max=128"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

type CreateAPIKey struct {
	Name   string   `json:"name" validate:"required,max=128"`
	Scopes []string `json:"scopes"`
}
