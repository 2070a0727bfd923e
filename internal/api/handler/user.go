package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/oncall/internal/api/request"
	"github.com/edvin/oncall/internal/api/response"
	"github.com/edvin/oncall/internal/core"
	"github.com/edvin/oncall/internal/model"
)

// User handles user directory endpoints.
type User struct {
	svc *core.UserService
}

func NewUser(svc *core.UserService) *User {
	return &User{svc: svc}
}

// List lists users with optional team and role filters.
func (h *User) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pg := request.ParsePagination(r)

	users, hasMore, err := h.svc.List(r.Context(), q.Get("team_id"), q.Get("role"), pg.Limit, pg.Cursor)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	var nextCursor string
	if hasMore && len(users) > 0 {
		nextCursor = users[len(users)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, users, nextCursor, hasMore)
}

// Create registers a new user.
func (h *User) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateUser
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	u := &model.User{
		Email:       req.Email,
		FullName:    req.FullName,
		PhoneNumber: req.PhoneNumber,
		Role:        req.Role,
		TeamID:      req.TeamID,
		IsActive:    true,
	}

	if err := h.svc.Create(r.Context(), u); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, u)
}

// Get retrieves a user by ID.
func (h *User) Get(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, u)
}

// Update updates profile fields on a user.
func (h *User) Update(w http.ResponseWriter, r *http.Request) {
	var req request.UpdateUser
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), req.FullName, req.PhoneNumber, req.Role, req.TeamID, req.IsActive)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, u)
}

// Delete deactivates a user. Deactivated users are skipped by escalation.
func (h *User) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
