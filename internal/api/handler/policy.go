package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/oncall/internal/api/request"
	"github.com/edvin/oncall/internal/api/response"
	"github.com/edvin/oncall/internal/core"
	"github.com/edvin/oncall/internal/model"
)

// Policy handles escalation policy endpoints.
type Policy struct {
	svc *core.PolicyService
}

func NewPolicy(svc *core.PolicyService) *Policy {
	return &Policy{svc: svc}
}

// List lists all escalation policies.
func (h *Policy) List(w http.ResponseWriter, r *http.Request) {
	policies, err := h.svc.List(r.Context())
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, policies)
}

// Create creates an escalation policy. Invalid steps or conditions are
// rejected before anything hits the database.
func (h *Policy) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreatePolicy
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	p := &model.EscalationPolicy{
		Name:        req.Name,
		Description: req.Description,
		Conditions:  req.Conditions,
		Steps:       req.Steps,
		IsActive:    true,
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}

	if err := h.svc.Create(r.Context(), p); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusCreated, p)
}

// Get retrieves an escalation policy by ID.
func (h *Policy) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, p)
}

// Update replaces an escalation policy's definition.
func (h *Policy) Update(w http.ResponseWriter, r *http.Request) {
	var req request.UpdatePolicy
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.svc.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	p.Name = req.Name
	p.Description = req.Description
	p.Conditions = req.Conditions
	p.Steps = req.Steps
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}

	updated, err := h.svc.Update(r.Context(), p)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, updated)
}

// Delete removes an escalation policy.
func (h *Policy) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
