// Package registry: порядок списка чатов по последней активности.
// Функции чистые: входной срез и чаты в нём не меняются.
package registry

import (
	"sort"

	"github.com/socialsync/internal/model"
)

// Sort возвращает копию chats, упорядоченную по createdAt последнего сообщения,
// новые первыми. Чаты без сообщений в конце. При равном времени сохраняется
// исходный порядок.
func Sort(chats []model.Chat) []model.Chat {
	out := make([]model.Chat, len(chats))
	copy(out, chats)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivity().After(out[j].LastActivity())
	})
	return out
}

// ApplyMessage делает msg последним сообщением его чата и пересортировывает.
// Если чат не найден, chats возвращается как есть.
func ApplyMessage(chats []model.Chat, msg model.ChatMessage) []model.Chat {
	key := msg.Key()
	idx := Index(chats, key)
	if idx < 0 {
		return chats
	}
	out := make([]model.Chat, len(chats))
	copy(out, chats)
	out[idx] = out[idx].WithLastMessage(msg)
	return Sort(out)
}

// Index returns the position of the chat identified by key, or -1.
func Index(chats []model.Chat, key model.ChatKey) int {
	if key.IsZero() {
		return -1
	}
	for i := range chats {
		if chats[i].Key() == key {
			return i
		}
	}
	return -1
}

// Find returns the chat identified by key.
func Find(chats []model.Chat, key model.ChatKey) (model.Chat, bool) {
	if i := Index(chats, key); i >= 0 {
		return chats[i], true
	}
	return model.Chat{}, false
}

// IsSorted reports whether every adjacent pair is ordered newest first.
func IsSorted(chats []model.Chat) bool {
	for i := 1; i < len(chats); i++ {
		if chats[i-1].LastActivity().Before(chats[i].LastActivity()) {
			return false
		}
	}
	return true
}
