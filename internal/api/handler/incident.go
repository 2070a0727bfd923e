package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/edvin/oncall/internal/api/request"
	"github.com/edvin/oncall/internal/api/response"
	"github.com/edvin/oncall/internal/core"
	"github.com/edvin/oncall/internal/escalation"
	"github.com/edvin/oncall/internal/model"
)

type Incident struct {
	svc       *core.IncidentService
	events    *core.EventService
	notifs    *core.NotificationService
	users     *core.UserService
	evaluator *escalation.Evaluator
}

func NewIncident(svc *core.IncidentService, events *core.EventService, notifs *core.NotificationService, users *core.UserService, evaluator *escalation.Evaluator) *Incident {
	return &Incident{svc: svc, events: events, notifs: notifs, users: users, evaluator: evaluator}
}

// List returns a paginated list of incidents with optional filters.
func (h *Incident) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pg := request.ParsePagination(r)

	filters := core.IncidentFilters{
		Status:   q.Get("status"),
		Severity: q.Get("severity"),
		Service:  q.Get("service"),
		TeamID:   q.Get("team_id"),
	}

	incidents, hasMore, err := h.svc.List(r.Context(), filters, pg.Limit, pg.Cursor)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	var nextCursor string
	if hasMore && len(incidents) > 0 {
		nextCursor = incidents[len(incidents)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, incidents, nextCursor, hasMore)
}

// Create creates an incident, or returns the existing open one when alert_id
// matches. A newly created incident gets an immediate escalation pass so
// zero-delay policy steps fire without waiting for the sweep.
func (h *Incident) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateIncident
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	inc := &model.Incident{
		Title:       req.Title,
		Description: req.Description,
		Severity:    req.Severity,
		Service:     req.Service,
		TeamID:      req.TeamID,
		Source:      req.Source,
		AlertID:     req.AlertID,
		Metadata:    req.Metadata,
	}

	created, err := h.svc.Create(r.Context(), inc)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	if created {
		if err := h.evaluator.Evaluate(r.Context(), inc); err != nil {
			log.Warn().Err(err).
				Str("incident_id", inc.ID).
				Msg("initial escalation pass failed")
		}
		response.WriteJSON(w, http.StatusCreated, inc)
	} else {
		response.WriteJSON(w, http.StatusOK, inc)
	}
}

// Get returns a single incident by ID.
func (h *Incident) Get(w http.ResponseWriter, r *http.Request) {
	inc, err := h.svc.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, inc)
}

// Update updates descriptive fields and, optionally, the status.
func (h *Incident) Update(w http.ResponseWriter, r *http.Request) {
	var req request.UpdateIncident
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := chi.URLParam(r, "id")
	inc, err := h.svc.Update(r.Context(), id, req.Title, req.Description, req.Severity, req.Service)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	if req.Status != nil && *req.Status != inc.Status {
		inc, err = h.svc.UpdateStatus(r.Context(), id, *req.Status)
		if err != nil {
			response.WriteServiceError(w, err)
			return
		}
		h.evaluateAfterStatusChange(r.Context(), inc)
	}

	response.WriteJSON(w, http.StatusOK, inc)
}

// evaluateAfterStatusChange runs an escalation pass when a status transition
// leaves the incident in a non-terminal state, so policies re-match against
// the new status without waiting for the sweep.
func (h *Incident) evaluateAfterStatusChange(ctx context.Context, inc *model.Incident) {
	if !model.Escalatable(inc.Status) {
		return
	}
	if err := h.evaluator.Evaluate(ctx, inc); err != nil {
		log.Warn().Err(err).
			Str("incident_id", inc.ID).
			Msg("escalation pass after status change failed")
	}
}

// Acknowledge transitions an incident to acknowledged.
func (h *Incident) Acknowledge(w http.ResponseWriter, r *http.Request) {
	inc, err := h.svc.UpdateStatus(r.Context(), chi.URLParam(r, "id"), model.IncidentAcknowledged)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	h.evaluateAfterStatusChange(r.Context(), inc)
	response.WriteJSON(w, http.StatusOK, inc)
}

// Resolve transitions an incident to resolved, ending escalation.
func (h *Incident) Resolve(w http.ResponseWriter, r *http.Request) {
	inc, err := h.svc.UpdateStatus(r.Context(), chi.URLParam(r, "id"), model.IncidentResolved)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, inc)
}

// Snooze pauses escalation until the requested number of minutes has passed.
func (h *Incident) Snooze(w http.ResponseWriter, r *http.Request) {
	var req request.SnoozeIncident
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	until := time.Now().Add(time.Duration(req.Minutes) * time.Minute)
	inc, err := h.svc.Snooze(r.Context(), chi.URLParam(r, "id"), until)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, inc)
}

// Delete removes an incident and its dependent records.
func (h *Incident) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Escalate runs a manual escalation pass and returns the refreshed incident.
func (h *Incident) Escalate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inc, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	if err := h.evaluator.EvaluateAs(r.Context(), inc, "manual"); err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Re-read: a status_change action may have altered the incident.
	inc, err = h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, inc)
}

// Assign assigns a user to the incident. Repeat assignment is a no-op.
func (h *Incident) Assign(w http.ResponseWriter, r *http.Request) {
	var req request.AssignIncident
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := h.svc.GetByID(r.Context(), id); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	if user, err := h.users.FindByID(r.Context(), req.UserID); err != nil {
		response.WriteServiceError(w, err)
		return
	} else if user == nil {
		response.WriteError(w, http.StatusNotFound, "user not found")
		return
	}

	a, err := h.svc.CreateAssignment(r.Context(), id, req.UserID)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, a)
}

// ListAssignees returns the users assigned to the incident.
func (h *Incident) ListAssignees(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListAssignedUsers(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, users)
}

// ListEvents returns the incident's escalation event history.
func (h *Incident) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListByIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, events)
}

// ListNotifications returns the incident's notification audit trail.
func (h *Incident) ListNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := h.notifs.ListByIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, notifications)
}
