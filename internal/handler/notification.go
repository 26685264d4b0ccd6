package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/socialsync/internal/model"
	"github.com/socialsync/internal/notify"
	"github.com/socialsync/internal/ws"
)

type NotificationHandler struct {
	router ws.NotificationController
}

func NewNotificationHandler(router ws.NotificationController) *NotificationHandler {
	return &NotificationHandler{router: router}
}

// List возвращает обе очереди с локальными решениями и флагом empty.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.router.Snapshot())
}

type actionResponse struct {
	Kind     notify.Kind              `json:"kind"`
	ID       int64                    `json:"id"`
	Decision model.NotificationStatus `json:"decision"`
}

// Act: POST /api/notifications/{kind}/{id}/{action}.
func (h *NotificationHandler) Act(w http.ResponseWriter, r *http.Request) {
	kind, err := notify.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, ok := pathInt64(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	action, err := model.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	decision, err := h.router.ActOn(r.Context(), kind, id, action)
	if err != nil {
		writeError(w, actionStatus(err), ws.ActionErrorText(err))
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Kind: kind, ID: id, Decision: decision})
}

func actionStatus(err error) int {
	var ae *notify.ActionError
	switch {
	case errors.Is(err, notify.ErrUnknownEvent):
		return http.StatusNotFound
	case errors.Is(err, notify.ErrAlreadyDecided), errors.Is(err, notify.ErrInFlight):
		return http.StatusConflict
	case errors.Is(err, notify.ErrNotActionable), errors.As(err, &ae):
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadGateway
}
