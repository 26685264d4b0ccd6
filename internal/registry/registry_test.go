package registry

import (
	"math/rand"
	"testing"
	"time"

	"github.com/socialsync/internal/model"
)

func at(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func privateChat(id, lastAt int64) model.Chat {
	c := model.Chat{ID: id, Type: model.ChatTypePrivate, Private: &model.PrivateChat{User1ID: 1, User2ID: 2}}
	if lastAt > 0 {
		c.Private.LastMessage = &model.ChatMessage{ID: id * 100, CreatedAt: at(lastAt), PrivateChatID: id}
	}
	return c
}

func groupChat(id, lastAt int64) model.Chat {
	c := model.Chat{ID: id, Type: model.ChatTypeGroup, Group: &model.GroupChat{GroupID: id}}
	if lastAt > 0 {
		c.Group.LastMessage = &model.ChatMessage{ID: id * 100, CreatedAt: at(lastAt), GroupChatID: id}
	}
	return c
}

func ids(chats []model.Chat) []model.ChatKey {
	out := make([]model.ChatKey, len(chats))
	for i, c := range chats {
		out[i] = c.Key()
	}
	return out
}

func equalKeys(a, b []model.ChatKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSortNewestFirst(t *testing.T) {
	chats := []model.Chat{privateChat(1, 100), privateChat(2, 200), groupChat(3, 0), groupChat(4, 150)}
	got := ids(Sort(chats))
	want := []model.ChatKey{
		{Type: model.ChatTypePrivate, ID: 2},
		{Type: model.ChatTypeGroup, ID: 4},
		{Type: model.ChatTypePrivate, ID: 1},
		{Type: model.ChatTypeGroup, ID: 3},
	}
	if !equalKeys(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if chats[0].ID != 1 {
		t.Fatal("Sort modified its input")
	}
}

func TestSortTiesKeepInputOrder(t *testing.T) {
	chats := []model.Chat{groupChat(5, 0), privateChat(5, 0), privateChat(1, 100), groupChat(9, 100)}
	got := ids(Sort(chats))
	want := []model.ChatKey{
		{Type: model.ChatTypePrivate, ID: 1},
		{Type: model.ChatTypeGroup, ID: 9},
		{Type: model.ChatTypeGroup, ID: 5},
		{Type: model.ChatTypePrivate, ID: 5},
	}
	if !equalKeys(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSortInvariantRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		n := rng.Intn(12)
		chats := make([]model.Chat, n)
		for i := range chats {
			ts := int64(rng.Intn(5)) * 100
			if rng.Intn(2) == 0 {
				chats[i] = privateChat(int64(i+1), ts)
			} else {
				chats[i] = groupChat(int64(i+1), ts)
			}
		}
		sorted := Sort(chats)
		if len(sorted) != n {
			t.Fatalf("round %d: length changed", round)
		}
		if !IsSorted(sorted) {
			t.Fatalf("round %d: not sorted: %v", round, ids(sorted))
		}
	}
}

func TestApplyMessageReordersList(t *testing.T) {
	chats := Sort([]model.Chat{privateChat(1, 100), privateChat(2, 200)})
	if got := ids(chats); got[0].ID != 2 || got[1].ID != 1 {
		t.Fatalf("initial order %v", got)
	}
	msg := model.ChatMessage{ID: 77, SenderID: 2, Content: "new", CreatedAt: at(300), PrivateChatID: 1}
	updated := ApplyMessage(chats, msg)
	if got := ids(updated); got[0].ID != 1 || got[1].ID != 2 {
		t.Fatalf("order after apply %v", got)
	}
	if updated[0].LastMessage().ID != 77 {
		t.Fatalf("last message = %+v", updated[0].LastMessage())
	}
	if chats[1].LastMessage().ID != 100 {
		t.Fatal("ApplyMessage mutated the input chat")
	}
}

func TestApplyMessageIdempotent(t *testing.T) {
	chats := Sort([]model.Chat{privateChat(1, 100), groupChat(1, 200), privateChat(3, 50)})
	msg := model.ChatMessage{ID: 5, CreatedAt: at(120), GroupChatID: 1}
	once := ApplyMessage(chats, msg)
	twice := ApplyMessage(once, msg)
	if !equalKeys(ids(once), ids(twice)) {
		t.Fatalf("order differs: %v vs %v", ids(once), ids(twice))
	}
	c, ok := Find(twice, model.ChatKey{Type: model.ChatTypeGroup, ID: 1})
	if !ok || c.LastMessage().ID != 5 {
		t.Fatalf("group chat last message = %+v", c.LastMessage())
	}
}

func TestApplyMessageRespectsKeyspaces(t *testing.T) {
	chats := []model.Chat{privateChat(1, 100), groupChat(1, 50)}
	msg := model.ChatMessage{ID: 8, CreatedAt: at(500), GroupChatID: 1}
	updated := ApplyMessage(chats, msg)
	p, _ := Find(updated, model.ChatKey{Type: model.ChatTypePrivate, ID: 1})
	if p.LastMessage().ID != 100 {
		t.Fatal("private chat with the same numeric id was updated")
	}
	if updated[0].Type != model.ChatTypeGroup {
		t.Fatalf("group chat should lead, got %v", ids(updated))
	}
}

func TestApplyMessageUnknownChatUnchanged(t *testing.T) {
	chats := []model.Chat{privateChat(1, 100), privateChat(2, 200)}
	updated := ApplyMessage(chats, model.ChatMessage{ID: 1, CreatedAt: at(900), PrivateChatID: 42})
	if !equalKeys(ids(updated), ids(chats)) {
		t.Fatalf("unknown chat changed the list: %v", ids(updated))
	}
}
