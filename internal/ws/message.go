package ws

import (
	"github.com/socialsync/internal/chat"
	"github.com/socialsync/internal/model"
	"github.com/socialsync/internal/notify"
)

type EventType string

const (
	EventChatsUpdated         EventType = "chats_updated"
	EventTranscriptUpdated    EventType = "transcript_updated"
	EventNotificationsUpdated EventType = "notifications_updated"
	EventSelectChat           EventType = "select_chat"
	EventSendMessage          EventType = "send_message"
	EventNotificationAction   EventType = "notification_action"
	EventActionResult         EventType = "action_result"
	EventError                EventType = "error"
)

// IncomingMessage: команда от UI к шлюзу.
type IncomingMessage struct {
	Type EventType `json:"type"`

	// select_chat
	ChatID   int64          `json:"chatId,omitempty"`
	ChatType model.ChatType `json:"chatType,omitempty"`

	// send_message
	Content string `json:"content,omitempty"`

	// notification_action
	Kind   notify.Kind  `json:"kind,omitempty"`
	ID     int64        `json:"id,omitempty"`
	Action model.Action `json:"action,omitempty"`
}

// OutgoingMessage: событие от шлюза к UI.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

type ChatsPayload struct {
	Chats []model.Chat `json:"chats"`
}

type TranscriptPayload struct {
	ChatID     int64               `json:"chatId"`
	ChatType   model.ChatType      `json:"chatType"`
	Transcript []model.ChatMessage `json:"transcript"`
}

type ActionResultPayload struct {
	Kind     notify.Kind              `json:"kind"`
	ID       int64                    `json:"id"`
	Decision model.NotificationStatus `json:"decision"`
}

// ErrorPayload goes to the UI error channel.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ChangeMessage превращает изменение сессии в событие для UI.
func ChangeMessage(c chat.Change) OutgoingMessage {
	if c.Kind == chat.ChangeChats {
		return OutgoingMessage{Type: EventChatsUpdated, Payload: ChatsPayload{Chats: c.Chats}}
	}
	return OutgoingMessage{Type: EventTranscriptUpdated, Payload: TranscriptPayload{
		ChatID:     c.Active.ID,
		ChatType:   c.Active.Type,
		Transcript: c.Transcript,
	}}
}
