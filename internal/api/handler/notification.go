package handler

import (
	"net/http"

	"github.com/edvin/oncall/internal/api/request"
	"github.com/edvin/oncall/internal/api/response"
	"github.com/edvin/oncall/internal/core"
)

// Notification exposes the notification audit trail.
type Notification struct {
	svc *core.NotificationService
}

func NewNotification(svc *core.NotificationService) *Notification {
	return &Notification{svc: svc}
}

// List lists notifications across all incidents, newest first.
func (h *Notification) List(w http.ResponseWriter, r *http.Request) {
	pg := request.ParsePagination(r)

	notifications, hasMore, err := h.svc.List(r.Context(), r.URL.Query().Get("status"), pg.Limit, pg.Cursor)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	var nextCursor string
	if hasMore && len(notifications) > 0 {
		nextCursor = notifications[len(notifications)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, notifications, nextCursor, hasMore)
}
