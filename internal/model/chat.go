package model

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

type ChatType string

const (
	ChatTypePrivate ChatType = "private"
	ChatTypeGroup   ChatType = "group"
)

// Valid reports whether t is one of the known chat types.
func (t ChatType) Valid() bool {
	return t == ChatTypePrivate || t == ChatTypeGroup
}

// ParseChatType разбирает chatType из query или тела запроса удалённого API.
func ParseChatType(s string) (ChatType, error) {
	t := ChatType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown chat type %q", s)
	}
	return t, nil
}

// ChatKey идентифицирует чат. Id личных чатов и групп независимы, ключи равны
// только при совпадении и типа, и id.
type ChatKey struct {
	Type ChatType
	ID   int64
}

func (k ChatKey) String() string {
	return string(k.Type) + ":" + strconv.FormatInt(k.ID, 10)
}

// IsZero reports whether no chat is identified.
func (k ChatKey) IsZero() bool { return k.Type == "" && k.ID == 0 }

type Member struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// FullName: имя и фамилия, как в списке чатов.
func (m Member) FullName() string {
	switch {
	case m.FirstName == "":
		return m.LastName
	case m.LastName == "":
		return m.FirstName
	}
	return m.FirstName + " " + m.LastName
}

type PrivateChat struct {
	User1ID       int64        `json:"user1Id"`
	User2ID       int64        `json:"user2Id"`
	User1FullName string       `json:"user1FullName"`
	User2FullName string       `json:"user2FullName"`
	User1Avatar   string       `json:"user1Avatar"`
	User2Avatar   string       `json:"user2Avatar"`
	LastMessage   *ChatMessage `json:"LastMessage,omitempty"`
}

type GroupChat struct {
	GroupID     int64        `json:"groupId"`
	GroupName   string       `json:"groupName"`
	Members     []Member     `json:"members"`
	LastMessage *ChatMessage `json:"LastMessage,omitempty"`
}

// Chat: размеченное объединение. Задан ровно один из Private и Group, по Type.
// JSON совпадает с ответом chat-display удалённого сервиса.
type Chat struct {
	ID      int64        `json:"chatId"`
	Type    ChatType     `json:"type"`
	Private *PrivateChat `json:"PrivateChat"`
	Group   *GroupChat   `json:"GroupChat"`
}

var ErrInvalidChat = errors.New("invalid chat")

// Validate checks the variant invariant.
func (c Chat) Validate() error {
	switch c.Type {
	case ChatTypePrivate:
		if c.Private == nil || c.Group != nil {
			return fmt.Errorf("%w: private chat %d must carry only PrivateChat", ErrInvalidChat, c.ID)
		}
	case ChatTypeGroup:
		if c.Group == nil || c.Private != nil {
			return fmt.Errorf("%w: group chat %d must carry only GroupChat", ErrInvalidChat, c.ID)
		}
	default:
		return fmt.Errorf("%w: chat %d has type %q", ErrInvalidChat, c.ID, c.Type)
	}
	return nil
}

func (c Chat) Key() ChatKey { return ChatKey{Type: c.Type, ID: c.ID} }

// LastMessage returns the denormalized preview message, nil when absent.
func (c Chat) LastMessage() *ChatMessage {
	switch c.Type {
	case ChatTypePrivate:
		if c.Private != nil {
			return c.Private.LastMessage
		}
	case ChatTypeGroup:
		if c.Group != nil {
			return c.Group.LastMessage
		}
	}
	return nil
}

// LastActivity: createdAt последнего сообщения. Без сообщений: Unix epoch,
// такой чат идёт после всех активных.
func (c Chat) LastActivity() time.Time {
	m := c.LastMessage()
	if m == nil || m.CreatedAt.IsZero() || m.CreatedAt.Before(epoch) {
		return epoch
	}
	return m.CreatedAt
}

var epoch = time.Unix(0, 0).UTC()

// WithLastMessage возвращает копию c с msg в качестве последнего сообщения.
// Исходный чат и его вариант не меняются.
func (c Chat) WithLastMessage(msg ChatMessage) Chat {
	out := c
	switch c.Type {
	case ChatTypePrivate:
		if c.Private != nil {
			p := *c.Private
			p.LastMessage = &msg
			out.Private = &p
		}
	case ChatTypeGroup:
		if c.Group != nil {
			g := *c.Group
			g.LastMessage = &msg
			out.Group = &g
		}
	}
	return out
}

// DisplayName: имя в списке чатов. Для личного чата имя собеседника,
// для группы её название.
func (c Chat) DisplayName(viewerID int64) string {
	switch c.Type {
	case ChatTypePrivate:
		if c.Private == nil {
			return ""
		}
		if c.Private.User1ID == viewerID {
			return c.Private.User2FullName
		}
		return c.Private.User1FullName
	case ChatTypeGroup:
		if c.Group != nil {
			return c.Group.GroupName
		}
	}
	return ""
}

// Avatar returns the other participant's avatar for private chats.
func (c Chat) Avatar(viewerID int64) string {
	if c.Type != ChatTypePrivate || c.Private == nil {
		return ""
	}
	if c.Private.User1ID == viewerID {
		return c.Private.User2Avatar
	}
	return c.Private.User1Avatar
}

// ChatList: ответ chat-display при старте.
type ChatList struct {
	Chats    []Chat   `json:"chats"`
	UserInfo UserInfo `json:"userInfo"`
}
