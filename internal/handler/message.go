package handler

import (
	"encoding/json"
	"net/http"
	"strings"
)

type sendMessageRequest struct {
	Content string `json:"content"`
}

type sendMessageResponse struct {
	Sent bool `json:"sent"`
}

// SendMessage отправляет сообщение в активный чат через стрим сообщений.
// Пустой текст: no-op (204).
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	sent, err := h.session.SendMessage(req.Content)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "session stopped")
		return
	}
	if !sent {
		writeError(w, http.StatusConflict, "no active chat or message stream closed")
		return
	}
	writeJSON(w, http.StatusAccepted, sendMessageResponse{Sent: true})
}
