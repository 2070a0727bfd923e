package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/oncall/internal/api/request"
	"github.com/edvin/oncall/internal/api/response"
	"github.com/edvin/oncall/internal/core"
	"github.com/edvin/oncall/internal/model"
)

// Team handles team endpoints.
type Team struct {
	svc *core.TeamService
}

func NewTeam(svc *core.TeamService) *Team {
	return &Team{svc: svc}
}

// List lists all teams, active first.
func (h *Team) List(w http.ResponseWriter, r *http.Request) {
	teams, err := h.svc.List(r.Context())
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, teams)
}

// Create creates a team.
func (h *Team) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateTeam
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	t := &model.Team{
		Name:        req.Name,
		Description: req.Description,
		IsActive:    true,
	}

	if err := h.svc.Create(r.Context(), t); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, t)
}

// Get retrieves a team by ID.
func (h *Team) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, t)
}

// Update updates a team.
func (h *Team) Update(w http.ResponseWriter, r *http.Request) {
	var req request.UpdateTeam
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), req.Name, req.Description, req.IsActive)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, t)
}

// Delete deactivates a team.
func (h *Team) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
