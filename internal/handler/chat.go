package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/socialsync/internal/chat"
	"github.com/socialsync/internal/logger"
	"github.com/socialsync/internal/model"
	"github.com/socialsync/internal/registry"
	"github.com/socialsync/internal/ws"
)

type ChatHandler struct {
	session ws.ChatController
	userID  int64
}

func NewChatHandler(session ws.ChatController, userID int64) *ChatHandler {
	return &ChatHandler{session: session, userID: userID}
}

// chatView: чат с полями, которые UI показывает в списке.
type chatView struct {
	model.Chat
	DisplayName  string `json:"displayName"`
	DisplayImage string `json:"displayAvatar"`
}

func (h *ChatHandler) view(c model.Chat) chatView {
	return chatView{Chat: c, DisplayName: c.DisplayName(h.userID), DisplayImage: c.Avatar(h.userID)}
}

func (h *ChatHandler) snapshot(w http.ResponseWriter) (chat.Snapshot, bool) {
	snap, err := h.session.Snapshot()
	if err != nil {
		if errors.Is(err, chat.ErrStopped) {
			writeError(w, http.StatusServiceUnavailable, "session stopped")
		} else {
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return snap, false
	}
	return snap, true
}

// ListChats возвращает чаты, отсортированные по последней активности.
func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w)
	if !ok {
		return
	}
	out := make([]chatView, 0, len(snap.Chats))
	for _, c := range snap.Chats {
		out = append(out, h.view(c))
	}
	writeJSON(w, http.StatusOK, out)
}

type transcriptEntry struct {
	model.ChatMessage
	SenderName string `json:"senderName,omitempty"`
	Mine       bool   `json:"mine"`
}

type activeChatResponse struct {
	State      string            `json:"state"`
	Chat       *chatView         `json:"chat"`
	Transcript []transcriptEntry `json:"transcript"`
	Pending    []chat.Pending    `json:"pending"`
}

// ActiveChat возвращает активный чат и его историю.
func (h *ChatHandler) ActiveChat(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.activeResponse(snap))
}

func (h *ChatHandler) activeResponse(snap chat.Snapshot) activeChatResponse {
	resp := activeChatResponse{
		State:      snap.StateName,
		Transcript: make([]transcriptEntry, 0, len(snap.Transcript)),
		Pending:    snap.Pending,
	}
	if snap.Active != nil {
		v := h.view(*snap.Active)
		resp.Chat = &v
	}
	for _, m := range snap.Transcript {
		e := transcriptEntry{ChatMessage: m, Mine: m.SenderID == h.userID}
		if snap.Active != nil {
			e.SenderName = chat.SenderName(*snap.Active, m.SenderID)
		}
		resp.Transcript = append(resp.Transcript, e)
	}
	return resp
}

type selectChatRequest struct {
	ChatID   int64  `json:"chatId"`
	ChatType string `json:"chatType"`
}

// SelectChat делает чат активным и ждёт загрузки истории.
func (h *ChatHandler) SelectChat(w http.ResponseWriter, r *http.Request) {
	var req selectChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	ct, err := model.ParseChatType(req.ChatType)
	if err != nil || req.ChatID == 0 {
		writeError(w, http.StatusBadRequest, "chatId and chatType required")
		return
	}
	snap, ok := h.snapshot(w)
	if !ok {
		return
	}
	target, found := registry.Find(snap.Chats, model.ChatKey{Type: ct, ID: req.ChatID})
	if !found {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if err := h.session.SelectChat(r.Context(), target); err != nil {
		logger.Errorf("select chat %s: %v", target.Key(), err)
		writeError(w, http.StatusServiceUnavailable, "session stopped")
		return
	}
	snap, ok = h.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.activeResponse(snap))
}
