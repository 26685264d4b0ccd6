package model

import (
	"errors"
	"fmt"
	"time"
)

// OptimisticID помечает локальное сообщение, которое сервер ещё не подтвердил.
const OptimisticID int64 = -1

// ChatMessage: сообщение в формате удалённого сервиса. Ненулевой ровно один из
// PrivateChatID и GroupChatID.
type ChatMessage struct {
	ID            int64     `json:"id"`
	SenderID      int64     `json:"senderId"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"createdAt"`
	Avatar        string    `json:"avatar"`
	PrivateChatID int64     `json:"privateChatId,omitempty"`
	GroupChatID   int64     `json:"groupChatId,omitempty"`
}

var ErrInvalidMessage = errors.New("invalid chat message")

func (m ChatMessage) Validate() error {
	if (m.PrivateChatID == 0) == (m.GroupChatID == 0) {
		return fmt.Errorf("%w: message %d must target exactly one chat (private=%d group=%d)",
			ErrInvalidMessage, m.ID, m.PrivateChatID, m.GroupChatID)
	}
	return nil
}

// Key returns the chat the message belongs to. A message without a chat id
// yields the zero key.
func (m ChatMessage) Key() ChatKey {
	switch {
	case m.GroupChatID != 0:
		return ChatKey{Type: ChatTypeGroup, ID: m.GroupChatID}
	case m.PrivateChatID != 0:
		return ChatKey{Type: ChatTypePrivate, ID: m.PrivateChatID}
	}
	return ChatKey{}
}

func (m ChatMessage) IsOptimistic() bool { return m.ID == OptimisticID }

// OutgoingMessage: кадр в стрим сообщений. Id, не относящийся к чату, уходит как null.
type OutgoingMessage struct {
	Content       string `json:"content"`
	PrivateChatID *int64 `json:"privateChatId"`
	GroupChatID   *int64 `json:"groupChatId"`
}

// NewOutgoingMessage builds the frame for a chat identified by key.
func NewOutgoingMessage(key ChatKey, content string) OutgoingMessage {
	id := key.ID
	out := OutgoingMessage{Content: content}
	if key.Type == ChatTypeGroup {
		out.GroupChatID = &id
	} else {
		out.PrivateChatID = &id
	}
	return out
}

// Target sets the chat id of m from key.
func (m *ChatMessage) Target(key ChatKey) {
	m.PrivateChatID, m.GroupChatID = 0, 0
	if key.Type == ChatTypeGroup {
		m.GroupChatID = key.ID
	} else {
		m.PrivateChatID = key.ID
	}
}
