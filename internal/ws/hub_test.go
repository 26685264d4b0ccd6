package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/socialsync/internal/chat"
	"github.com/socialsync/internal/model"
	"github.com/socialsync/internal/notify"
)

func startHub(t *testing.T, maxConns int) (*Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := NewHub(maxConns)
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(h, conn, 4)
		c.Start(context.Background())
		h.Register(c)
	}))
	t.Cleanup(srv.Close)
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastReachesEveryClient(t *testing.T) {
	h, url := startHub(t, 8)
	a, b := dial(t, url), dial(t, url)
	waitClients(t, h, 2)

	key := model.ChatKey{Type: model.ChatTypeGroup, ID: 3}
	h.ChatChanged(chat.Change{Kind: chat.ChangeTranscript, Active: key, Transcript: []model.ChatMessage{{ID: 1, GroupChatID: 3}}})

	for _, conn := range []*websocket.Conn{a, b} {
		var msg struct {
			Type    EventType         `json:"type"`
			Payload TranscriptPayload `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatal(err)
		}
		if msg.Type != EventTranscriptUpdated || msg.Payload.ChatID != 3 || msg.Payload.ChatType != model.ChatTypeGroup {
			t.Fatalf("msg = %+v", msg)
		}
	}
}

func TestConnectionLimit(t *testing.T) {
	h, url := startHub(t, 1)
	dial(t, url)
	waitClients(t, h, 1)

	extra := dial(t, url)
	if _, _, err := extra.ReadMessage(); err == nil {
		t.Fatal("connection over the limit should be closed")
	}
	if h.ClientCount() != 1 {
		t.Fatalf("client count = %d", h.ClientCount())
	}
}

func TestUnknownCommandGetsError(t *testing.T) {
	h, url := startHub(t, 8)
	conn := dial(t, url)
	waitClients(t, h, 1)

	conn.WriteJSON(IncomingMessage{Type: "dance"})
	var msg struct {
		Type    EventType    `json:"type"`
		Payload ErrorPayload `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != EventError || msg.Payload.Message != "unknown event type" {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestRejectedCommandsKeepConnection(t *testing.T) {
	h, url := startHub(t, 8)
	conn := dial(t, url)
	waitClients(t, h, 1)

	frames := []string{
		`{"type":`,
		`{"type":"send_message","content":"` + strings.Repeat("я", maxContentRunes+1) + `"}`,
	}
	want := []string{errMalformedCommand.Error(), errContentTooLong.Error()}
	for i, frame := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatal(err)
		}
		var msg struct {
			Type    EventType    `json:"type"`
			Payload ErrorPayload `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatal(err)
		}
		if msg.Type != EventError || msg.Payload.Message != want[i] {
			t.Fatalf("frame %d: msg = %+v", i, msg)
		}
	}
	if h.ClientCount() != 1 {
		t.Fatalf("client count = %d", h.ClientCount())
	}
}

func TestDecodeCommand(t *testing.T) {
	cases := []struct {
		raw  string
		want error
	}{
		{`{"type":"select_chat","chatId":1,"chatType":"group"}`, nil},
		{`{"type":"notification_action","kind":"follow","id":2,"action":"accept"}`, nil},
		{`{"type":"send_message","content":"hi"}`, nil},
		{`{"type":"chats_updated"}`, errUnknownCommand},
		{`[]`, errMalformedCommand},
	}
	for _, tc := range cases {
		if _, err := decodeCommand([]byte(tc.raw)); !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.raw, err, tc.want)
		}
	}
}

func TestClientDisconnectUnregisters(t *testing.T) {
	h, url := startHub(t, 8)
	conn := dial(t, url)
	waitClients(t, h, 1)
	conn.Close()
	waitClients(t, h, 0)
}

func TestActionErrorText(t *testing.T) {
	cases := map[error]string{
		&notify.ActionError{Kind: notify.KindGroup, ID: 1, Message: "full"}: "full",
		notify.ErrAlreadyDecided:         "already decided",
		notify.ErrUnknownEvent:           "notification not found",
		errors.New("connection refused"): "action failed",
	}
	for err, want := range cases {
		if got := ActionErrorText(err); got != want {
			t.Errorf("%v: got %q want %q", err, got, want)
		}
	}
}
