package handler

import (
	"net/http"

	"github.com/edvin/oncall/internal/api/request"
	"github.com/edvin/oncall/internal/api/response"
	"github.com/edvin/oncall/internal/core"
)

// Event exposes the escalation event ledger for auditing.
type Event struct {
	svc *core.EventService
}

func NewEvent(svc *core.EventService) *Event {
	return &Event{svc: svc}
}

// List lists escalation events across all incidents, newest first.
func (h *Event) List(w http.ResponseWriter, r *http.Request) {
	pg := request.ParsePagination(r)

	events, hasMore, err := h.svc.List(r.Context(), r.URL.Query().Get("status"), pg.Limit, pg.Cursor)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	var nextCursor string
	if hasMore && len(events) > 0 {
		nextCursor = events[len(events)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, events, nextCursor, hasMore)
}
