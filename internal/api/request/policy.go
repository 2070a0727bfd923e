package request

import "github.com/edvin/oncall/internal/model"

// Policy payloads lean on model.EscalationPolicy.Validate for the step and
// action rules; the tags here only cover the surface shape.
type CreatePolicy struct {
	Name        string                 `json:"name" validate:"required,max=128"`
	Description string                 `json:"description"`
	Conditions  model.PolicyConditions `json:"conditions"`
	Steps       []model.EscalationStep `json:"steps" validate:"required,min=1"`
	IsActive    *bool                  `json:"is_active"`
}

type UpdatePolicy struct {
	Name        string                 `json:"name" validate:"required,max=128"`
	Description string                 `json:"description"`
	Conditions  model.PolicyConditions `json:"conditions"`
	Steps       []model.EscalationStep `json:"steps" validate:"required,min=1"`
	IsActive    *bool                  `json:"is_active"`
}
