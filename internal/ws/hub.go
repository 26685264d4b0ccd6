package ws

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/socialsync/internal/chat"
	"github.com/socialsync/internal/logger"
	"github.com/socialsync/internal/model"
	"github.com/socialsync/internal/notify"
	"github.com/socialsync/internal/registry"
)

// ChatController: часть сессии чатов, которой управляет UI.
type ChatController interface {
	Snapshot() (chat.Snapshot, error)
	SelectChat(ctx context.Context, c model.Chat) error
	SendMessage(text string) (bool, error)
}

// NotificationController: часть роутера уведомлений, которой управляет UI.
type NotificationController interface {
	Snapshot() notify.View
	ActOn(ctx context.Context, kind notify.Kind, id int64, action model.Action) (model.NotificationStatus, error)
}

// Hub рассылает изменения сессии и роутера всем подключённым UI и передаёт
// им команды UI.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*Client
	maxConns   int
	chats      ChatController
	notes      NotificationController
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 64
	}
	return &Hub{
		clients:    make(map[string]*Client),
		maxConns:   maxConns,
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		done:       make(chan struct{}),
	}
}

// Attach задаёт получателей команд UI. Сессия и роутер получают хаб как
// наблюдателя, поэтому создаются после него и подключаются до Run.
func (h *Hub) Attach(chats ChatController, notes NotificationController) {
	h.chats = chats
	h.notes = notes
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Собираем клиентов под блокировкой, I/O под мьютексом не делаем.
	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if len(h.clients) >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws ui connection limit reached (%d), rejecting client=%s", h.maxConns, c.id)
		c.Close()
		return
	}
	h.clients[c.id] = c
	h.mu.Unlock()
	logger.Debugf("ws ui client connected id=%s", c.id)
	h.greet(c)
}

// greet отправляет новому клиенту текущее состояние.
func (h *Hub) greet(c *Client) {
	if h.chats != nil {
		snap, err := h.chats.Snapshot()
		if err == nil {
			h.sendToClient(c, OutgoingMessage{Type: EventChatsUpdated, Payload: ChatsPayload{Chats: snap.Chats}})
			if snap.Active != nil {
				h.sendToClient(c, OutgoingMessage{Type: EventTranscriptUpdated, Payload: TranscriptPayload{
					ChatID:     snap.Active.ID,
					ChatType:   snap.Active.Type,
					Transcript: snap.Transcript,
				}})
			}
		}
	}
	if h.notes != nil {
		h.sendToClient(c, OutgoingMessage{Type: EventNotificationsUpdated, Payload: h.notes.Snapshot()})
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.id]; !ok || cur != c {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	h.mu.Unlock()

	// Сетевой I/O вне блокировки.
	c.Close()
	logger.Debugf("ws ui client disconnected id=%s", c.id)
}

// ClientCount returns the number of registered UI clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleMessage dispatches incoming UI commands.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventSelectChat:
		h.handleSelectChat(ctx, c, msg)
	case EventSendMessage:
		h.handleSendMessage(c, msg)
	case EventNotificationAction:
		h.handleNotificationAction(ctx, c, msg)
	default:
		h.sendToClient(c, errorMessage("unknown event type"))
	}
}

func (h *Hub) handleSelectChat(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSelectChat", time.Now())()
	if h.chats == nil || !msg.ChatType.Valid() || msg.ChatID == 0 {
		h.sendToClient(c, errorMessage("chatId and chatType required"))
		return
	}
	snap, err := h.chats.Snapshot()
	if err != nil {
		h.sendToClient(c, errorMessage("session stopped"))
		return
	}
	target, ok := registry.Find(snap.Chats, model.ChatKey{Type: msg.ChatType, ID: msg.ChatID})
	if !ok {
		h.sendToClient(c, errorMessage("chat not found"))
		return
	}
	if err := h.chats.SelectChat(ctx, target); err != nil {
		logger.Errorf("ws select chat %s: %v", target.Key(), err)
		h.sendToClient(c, errorMessage("select failed"))
	}
}

func (h *Hub) handleSendMessage(c *Client, msg IncomingMessage) {
	if h.chats == nil || strings.TrimSpace(msg.Content) == "" {
		return
	}
	sent, err := h.chats.SendMessage(msg.Content)
	if err != nil || !sent {
		h.sendToClient(c, errorMessage("message not sent"))
	}
}

func (h *Hub) handleNotificationAction(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleNotificationAction", time.Now())()
	if h.notes == nil {
		return
	}
	if _, err := notify.ParseKind(string(msg.Kind)); err != nil {
		h.sendToClient(c, errorMessage(err.Error()))
		return
	}
	if _, err := model.ParseAction(string(msg.Action)); err != nil {
		h.sendToClient(c, errorMessage(err.Error()))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	decision, err := h.notes.ActOn(ctx, msg.Kind, msg.ID, msg.Action)
	if err != nil {
		h.sendToClient(c, errorMessage(ActionErrorText(err)))
		return
	}
	h.sendToClient(c, OutgoingMessage{Type: EventActionResult, Payload: ActionResultPayload{
		Kind: msg.Kind, ID: msg.ID, Decision: decision,
	}})
}

// ActionErrorText: текст для UI при неудачном accept/decline.
func ActionErrorText(err error) string {
	var ae *notify.ActionError
	switch {
	case errors.As(err, &ae) && ae.Message != "":
		return ae.Message
	case errors.Is(err, notify.ErrAlreadyDecided):
		return "already decided"
	case errors.Is(err, notify.ErrInFlight):
		return "action in progress"
	case errors.Is(err, notify.ErrNotActionable):
		return "notification cannot be accepted or declined"
	case errors.Is(err, notify.ErrUnknownEvent):
		return "notification not found"
	}
	return "action failed"
}

func errorMessage(text string) OutgoingMessage {
	return OutgoingMessage{Type: EventError, Payload: ErrorPayload{Message: text}}
}

// ChatChanged is the chat session observer.
func (h *Hub) ChatChanged(c chat.Change) {
	h.Broadcast(ChangeMessage(c))
}

// NotificationsChanged is the notification router observer.
func (h *Hub) NotificationsChanged(v notify.View) {
	h.Broadcast(OutgoingMessage{Type: EventNotificationsUpdated, Payload: v})
}

// Broadcast отправляет msg всем клиентам без блокировки. Кадр кодируется один
// раз на всех.
func (h *Hub) Broadcast(msg OutgoingMessage) {
	frame, err := json.Marshal(msg)
	if err != nil {
		logger.Errorf("ws marshal %s: %v", msg.Type, err)
		return
	}
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, frame)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	frame, err := json.Marshal(msg)
	if err != nil {
		logger.Errorf("ws marshal %s: %v", msg.Type, err)
		return
	}
	h.deliver(c, frame)
}

// deliver закрывает клиента, который не успевает читать.
func (h *Hub) deliver(c *Client, frame []byte) {
	if !c.enqueue(frame) {
		logger.Errorf("ws send buffer full, closing slow ui client id=%s", c.id)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
