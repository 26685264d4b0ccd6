package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/socialsync/internal/model"
)

// fakeRemote is a minimal stream endpoint: it records the authorization query,
// writes the scripted frames, and collects frames written by the client.
type fakeRemote struct {
	t        *testing.T
	frames   []string
	closeNow bool

	mu       sync.Mutex
	token    string
	received []string
	gotFrame chan struct{}
}

func (f *fakeRemote) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()
	f.mu.Lock()
	f.token = r.URL.Query().Get("authorization")
	f.mu.Unlock()

	for _, fr := range f.frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(fr)); err != nil {
			return
		}
	}
	if f.closeNow {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "bye"))
		return
	}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.received = append(f.received, string(raw))
		f.mu.Unlock()
		if f.gotFrame != nil {
			f.gotFrame <- struct{}{}
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/message-websocket"
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestMessageStreamDeliversInOrderAndDropsMalformed(t *testing.T) {
	remote := &fakeRemote{t: t, frames: []string{
		`{"id":1,"senderId":2,"content":"a","createdAt":"2024-01-01T00:00:00Z","avatar":"","privateChatId":7}`,
		`{not json`,
		`{"id":2,"senderId":2,"content":"orphan","createdAt":"2024-01-01T00:00:01Z","avatar":""}`,
		`{"id":3,"senderId":3,"content":"b","createdAt":"2024-01-01T00:00:02Z","avatar":"","groupChatId":4}`,
	}}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	var mu sync.Mutex
	var got []model.ChatMessage
	delivered := make(chan struct{}, 4)
	ms, err := OpenMessageStream(context.Background(), Options{URL: wsURL(srv), Token: "tok en"}, func(m model.ChatMessage) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
		delivered <- struct{}{}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer ms.Close()

	waitFor(t, delivered, "first message")
	waitFor(t, delivered, "second message")

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 3 {
		t.Fatalf("delivered %+v", got)
	}
	if ms.State() != StateOpen {
		t.Fatalf("stream should stay open after a bad frame, state=%v", ms.State())
	}
	remote.mu.Lock()
	defer remote.mu.Unlock()
	if remote.token != "tok en" {
		t.Fatalf("authorization = %q", remote.token)
	}
}

func TestSendWritesFrameWhileOpen(t *testing.T) {
	remote := &fakeRemote{t: t, gotFrame: make(chan struct{}, 1)}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	ms, err := OpenMessageStream(context.Background(), Options{URL: wsURL(srv), Token: "t"}, func(model.ChatMessage) {})
	if err != nil {
		t.Fatal(err)
	}
	defer ms.Close()

	if !ms.SendMessage(model.NewOutgoingMessage(model.ChatKey{Type: model.ChatTypePrivate, ID: 7}, "hi")) {
		t.Fatal("send on open stream returned false")
	}
	waitFor(t, remote.gotFrame, "outbound frame")

	remote.mu.Lock()
	defer remote.mu.Unlock()
	var frame map[string]any
	if err := json.Unmarshal([]byte(remote.received[0]), &frame); err != nil {
		t.Fatal(err)
	}
	if frame["content"] != "hi" || frame["privateChatId"] != float64(7) || frame["groupChatId"] != nil {
		t.Fatalf("frame = %v", frame)
	}
}

func TestAcceptedFramesSurviveConcurrentClose(t *testing.T) {
	remote := &fakeRemote{t: t, gotFrame: make(chan struct{}, 256)}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	ms, err := OpenMessageStream(context.Background(), Options{URL: wsURL(srv), SendBufferSize: 256}, func(model.ChatMessage) {})
	if err != nil {
		t.Fatal(err)
	}

	var accepted int
	sent := make(chan struct{})
	go func() {
		defer close(sent)
		for i := 0; i < 200; i++ {
			if ms.SendMessage(model.NewOutgoingMessage(model.ChatKey{Type: model.ChatTypePrivate, ID: 7}, "x")) {
				accepted++
			}
		}
	}()
	ms.Close()
	<-sent
	waitFor(t, ms.Done(), "pumps to exit")

	for i := 0; i < accepted; i++ {
		waitFor(t, remote.gotFrame, "accepted frame")
	}
	remote.mu.Lock()
	defer remote.mu.Unlock()
	if len(remote.received) != accepted {
		t.Fatalf("remote got %d frames, Send accepted %d", len(remote.received), accepted)
	}
}

func TestSendAfterCloseIsNoop(t *testing.T) {
	remote := &fakeRemote{t: t}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	ms, err := OpenMessageStream(context.Background(), Options{URL: wsURL(srv)}, func(model.ChatMessage) {})
	if err != nil {
		t.Fatal(err)
	}
	ms.Close()
	ms.Close()
	waitFor(t, ms.Done(), "pumps to exit")

	if ms.SendMessage(model.OutgoingMessage{Content: "late"}) {
		t.Fatal("send on closed stream returned true")
	}
	if !errors.Is(ms.Err(), ErrClosed) {
		t.Fatalf("err = %v", ms.Err())
	}
}

func TestTransportErrorStopsDelivery(t *testing.T) {
	remote := &fakeRemote{t: t, closeNow: true}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	ms, err := OpenMessageStream(context.Background(), Options{URL: wsURL(srv)}, func(model.ChatMessage) {})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, ms.Done(), "stream to stop")
	if ms.State() != StateClosed {
		t.Fatalf("state = %v", ms.State())
	}
	if ms.Err() == nil || errors.Is(ms.Err(), ErrClosed) {
		t.Fatalf("expected transport error, got %v", ms.Err())
	}
	if ms.SendMessage(model.OutgoingMessage{Content: "x"}) {
		t.Fatal("send after transport error returned true")
	}
}

func TestNotificationStreamDecodesVariants(t *testing.T) {
	remote := &fakeRemote{t: t, frames: []string{
		`{"id":1,"requesterId":5,"firstName":"A","lastName":"B","type":"follow_request"}`,
		`{"id":2`,
		`{"id":3,"status":"pending"}`,
		`{"id":4,"requesterId":5,"receiverId":1,"groupId":8,"content":"join","type":"join_request","status":"pending"}`,
	}}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	events := make(chan model.Event, 4)
	ns, err := OpenNotificationStream(context.Background(), Options{URL: wsURL(srv)}, func(ev model.Event) { events <- ev })
	if err != nil {
		t.Fatal(err)
	}
	defer ns.Close()

	first := <-events
	if _, ok := first.(*model.FollowRequest); !ok {
		t.Fatalf("first = %#v", first)
	}
	untyped := <-events
	if n, ok := untyped.(*model.Notification); !ok || n.ID != 3 || n.IsGroupRequest() {
		t.Fatalf("untyped frame = %#v", untyped)
	}
	third := <-events
	if n, ok := third.(*model.Notification); !ok || n.ID != 4 {
		t.Fatalf("third = %#v", third)
	}
}

func TestOpenFailsOnRejectedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := Open(context.Background(), Options{URL: wsURL(srv)}, func([]byte) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 dial error, got %v", err)
	}
}

func TestAuthorizedURLKeepsExistingQuery(t *testing.T) {
	got, err := AuthorizedURL("ws://h/notification?x=1", "abc")
	if err != nil {
		t.Fatal(err)
	}
	if got != "ws://h/notification?authorization=abc&x=1" {
		t.Fatalf("url = %s", got)
	}
}
