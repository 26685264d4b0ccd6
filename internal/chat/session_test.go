package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/socialsync/internal/model"
)

func privateChat(id int64, at time.Time) model.Chat {
	c := model.Chat{ID: id, Type: model.ChatTypePrivate, Private: &model.PrivateChat{User1ID: 1, User2ID: id + 100}}
	if !at.IsZero() {
		c.Private.LastMessage = &model.ChatMessage{ID: id * 10, SenderID: id + 100, Content: "old", CreatedAt: at, PrivateChatID: id}
	}
	return c
}

func msg(id int64, key model.ChatKey, sender int64, content string, at time.Time) model.ChatMessage {
	m := model.ChatMessage{ID: id, SenderID: sender, Content: content, CreatedAt: at}
	m.Target(key)
	return m
}

// gatedFetcher returns scripted histories; a key with a gate blocks until the
// gate is closed.
type gatedFetcher struct {
	mu      sync.Mutex
	history map[model.ChatKey][]model.ChatMessage
	gates   map[model.ChatKey]chan struct{}
	started chan model.ChatKey
	err     error
}

func (f *gatedFetcher) FetchMessages(ctx context.Context, key model.ChatKey) ([]model.ChatMessage, error) {
	f.mu.Lock()
	gate := f.gates[key]
	msgs := f.history[key]
	err := f.err
	f.mu.Unlock()
	if f.started != nil {
		f.started <- key
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return msgs, err
}

type recordingSender struct {
	mu     sync.Mutex
	open   bool
	frames []model.OutgoingMessage
}

func (r *recordingSender) SendMessage(m model.OutgoingMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return false
	}
	r.frames = append(r.frames, m)
	return true
}

func startSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	s := NewSession(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Run(ctx)
	return s
}

func snapshot(t *testing.T, s *Session) Snapshot {
	t.Helper()
	snap, err := s.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestNewSessionSortsBootstrapChats(t *testing.T) {
	s := startSession(t, Config{UserID: 1, Chats: []model.Chat{
		privateChat(1, t0.Add(100*time.Second)),
		privateChat(2, t0.Add(200*time.Second)),
		privateChat(3, time.Time{}),
	}})
	chats, err := s.Chats()
	if err != nil {
		t.Fatal(err)
	}
	if chats[0].ID != 2 || chats[1].ID != 1 || chats[2].ID != 3 {
		t.Fatalf("order = %d %d %d", chats[0].ID, chats[1].ID, chats[2].ID)
	}
	if snap := snapshot(t, s); snap.State != NoChatSelected || snap.Active != nil {
		t.Fatalf("initial state = %v active=%v", snap.State, snap.Active)
	}
}

func TestSelectChatLoadsHistory(t *testing.T) {
	key := model.ChatKey{Type: model.ChatTypePrivate, ID: 7}
	fetcher := &gatedFetcher{history: map[model.ChatKey][]model.ChatMessage{
		key: {msg(1, key, 2, "a", t0), msg(2, key, 1, "b", t0.Add(time.Second))},
	}}
	s := startSession(t, Config{UserID: 1, Chats: []model.Chat{privateChat(7, t0)}, History: fetcher})

	if err := s.SelectChat(context.Background(), privateChat(7, t0)); err != nil {
		t.Fatal(err)
	}
	snap := snapshot(t, s)
	if snap.State != TranscriptReady || len(snap.Transcript) != 2 || snap.Transcript[1].Content != "b" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Active == nil || snap.Active.Key() != key {
		t.Fatalf("active = %+v", snap.Active)
	}
}

func TestSelectChatFetchFailureLeavesTranscriptEmpty(t *testing.T) {
	fetcher := &gatedFetcher{err: errors.New("boom")}
	s := startSession(t, Config{UserID: 1, History: fetcher})
	if err := s.SelectChat(context.Background(), privateChat(7, t0)); err != nil {
		t.Fatalf("fetch failure must not surface: %v", err)
	}
	snap := snapshot(t, s)
	if len(snap.Transcript) != 0 || snap.State != TranscriptReady {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestFetchFailureDropsMessagesStreamedDuringLoad(t *testing.T) {
	key := model.ChatKey{Type: model.ChatTypePrivate, ID: 7}
	gate := make(chan struct{})
	fetcher := &gatedFetcher{
		gates:   map[model.ChatKey]chan struct{}{key: gate},
		started: make(chan model.ChatKey, 1),
		err:     errors.New("boom"),
	}
	s := startSession(t, Config{UserID: 1, Chats: []model.Chat{privateChat(7, t0)}, History: fetcher})

	done := make(chan error, 1)
	go func() { done <- s.SelectChat(context.Background(), privateChat(7, t0)) }()
	<-fetcher.started
	s.ReceiveStreamMessage(msg(3, key, 2, "c", t0.Add(time.Minute)))
	close(gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	snap := snapshot(t, s)
	if len(snap.Transcript) != 0 || snap.State != TranscriptReady {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Chats[0].LastMessage() == nil {
		t.Fatal("streamed message must still reach the chat list")
	}
}

func TestStaleHistoryIsDiscarded(t *testing.T) {
	a := model.ChatKey{Type: model.ChatTypePrivate, ID: 1}
	b := model.ChatKey{Type: model.ChatTypeGroup, ID: 1}
	gateA := make(chan struct{})
	fetcher := &gatedFetcher{
		history: map[model.ChatKey][]model.ChatMessage{
			a: {msg(1, a, 2, "from A", t0)},
			b: {msg(2, b, 3, "from B", t0)},
		},
		gates:   map[model.ChatKey]chan struct{}{a: gateA},
		started: make(chan model.ChatKey, 2),
	}
	group := model.Chat{ID: 1, Type: model.ChatTypeGroup, Group: &model.GroupChat{GroupID: 1}}
	s := startSession(t, Config{UserID: 1, Chats: []model.Chat{privateChat(1, t0), group}, History: fetcher})

	doneA := make(chan error, 1)
	go func() { doneA <- s.SelectChat(context.Background(), privateChat(1, t0)) }()
	if got := <-fetcher.started; got != a {
		t.Fatalf("first fetch = %v", got)
	}
	if err := s.SelectChat(context.Background(), group); err != nil {
		t.Fatal(err)
	}
	<-fetcher.started
	close(gateA)
	if err := <-doneA; err != nil {
		t.Fatal(err)
	}

	snap := snapshot(t, s)
	if snap.Active.Key() != b {
		t.Fatalf("active = %v", snap.Active.Key())
	}
	if len(snap.Transcript) != 1 || snap.Transcript[0].Content != "from B" {
		t.Fatalf("transcript = %+v", snap.Transcript)
	}
}

func TestStreamMessageDuringLoadIsKept(t *testing.T) {
	key := model.ChatKey{Type: model.ChatTypePrivate, ID: 7}
	gate := make(chan struct{})
	fetcher := &gatedFetcher{
		history: map[model.ChatKey][]model.ChatMessage{key: {msg(1, key, 2, "a", t0), msg(2, key, 2, "b", t0)}},
		gates:   map[model.ChatKey]chan struct{}{key: gate},
		started: make(chan model.ChatKey, 1),
	}
	s := startSession(t, Config{UserID: 1, Chats: []model.Chat{privateChat(7, t0)}, History: fetcher})

	done := make(chan error, 1)
	go func() { done <- s.SelectChat(context.Background(), privateChat(7, t0)) }()
	<-fetcher.started
	// id 2 is also part of the fetched history; id 3 is not
	s.ReceiveStreamMessage(msg(2, key, 2, "b", t0))
	s.ReceiveStreamMessage(msg(3, key, 2, "c", t0.Add(time.Minute)))
	close(gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	snap := snapshot(t, s)
	var ids []int64
	for _, m := range snap.Transcript {
		ids = append(ids, m.ID)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Fatalf("transcript ids = %v", ids)
	}
}

func TestReceiveStreamMessageUpdatesListAndActiveTranscript(t *testing.T) {
	active := model.ChatKey{Type: model.ChatTypePrivate, ID: 1}
	other := model.ChatKey{Type: model.ChatTypePrivate, ID: 2}
	s := startSession(t, Config{UserID: 1, Chats: []model.Chat{
		privateChat(1, t0.Add(100*time.Second)),
		privateChat(2, t0.Add(200*time.Second)),
	}, History: &gatedFetcher{}})
	if err := s.SelectChat(context.Background(), privateChat(1, t0)); err != nil {
		t.Fatal(err)
	}

	s.ReceiveStreamMessage(msg(50, active, 101, "hello", t0.Add(300*time.Second)))
	s.ReceiveStreamMessage(msg(51, other, 102, "elsewhere", t0.Add(250*time.Second)))

	snap := snapshot(t, s)
	if len(snap.Transcript) != 1 || snap.Transcript[0].ID != 50 {
		t.Fatalf("transcript = %+v", snap.Transcript)
	}
	if snap.Chats[0].ID != 1 || snap.Chats[1].ID != 2 {
		t.Fatalf("order = %d %d", snap.Chats[0].ID, snap.Chats[1].ID)
	}
	if snap.Chats[1].LastMessage().Content != "elsewhere" {
		t.Fatalf("chat 2 preview = %+v", snap.Chats[1].LastMessage())
	}
}

func TestMessageForUnknownChatIsIgnored(t *testing.T) {
	s := startSession(t, Config{UserID: 1, Chats: []model.Chat{privateChat(1, t0)}})
	unknown := model.ChatKey{Type: model.ChatTypeGroup, ID: 1}
	if err := s.ReceiveStreamMessage(msg(9, unknown, 5, "x", t0.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}
	chats, _ := s.Chats()
	if len(chats) != 1 || chats[0].LastMessage().Content != "old" {
		t.Fatalf("chats = %+v", chats)
	}
}

func TestOptimisticSendRoundTrip(t *testing.T) {
	key := model.ChatKey{Type: model.ChatTypePrivate, ID: 7}
	sender := &recordingSender{open: true}
	now := t0.Add(time.Hour)
	s := startSession(t, Config{
		UserID:  1,
		Chats:   []model.Chat{privateChat(7, t0), privateChat(8, t0.Add(time.Minute))},
		History: &gatedFetcher{},
		Sender:  sender,
		Now:     func() time.Time { return now },
	})
	if err := s.SelectChat(context.Background(), privateChat(7, t0)); err != nil {
		t.Fatal(err)
	}
	s.SetCompose("hi there")
	sent, err := s.SendCompose()
	if err != nil || !sent {
		t.Fatalf("sent=%v err=%v", sent, err)
	}

	frame := sender.frames[0]
	if frame.Content != "hi there" || frame.PrivateChatID == nil || *frame.PrivateChatID != 7 || frame.GroupChatID != nil {
		t.Fatalf("frame = %+v", frame)
	}

	snap := snapshot(t, s)
	if snap.Compose != "" {
		t.Fatalf("compose not cleared: %q", snap.Compose)
	}
	if len(snap.Transcript) != 0 {
		t.Fatalf("optimistic message must not enter transcript: %+v", snap.Transcript)
	}
	preview := snap.Chats[0].LastMessage()
	if snap.Chats[0].ID != 7 || !preview.IsOptimistic() || preview.SenderID != 1 || !preview.CreatedAt.Equal(now) {
		t.Fatalf("preview = %+v", preview)
	}
	if len(snap.Pending) != 1 || snap.Pending[0].LocalID == "" {
		t.Fatalf("pending = %+v", snap.Pending)
	}

	// the server echo confirms the pending entry and enters the transcript
	s.ReceiveStreamMessage(msg(77, key, 1, "hi there", now.Add(time.Second)))
	snap = snapshot(t, s)
	if len(snap.Pending) != 0 {
		t.Fatalf("pending not confirmed: %+v", snap.Pending)
	}
	if len(snap.Transcript) != 1 || snap.Transcript[0].ID != 77 {
		t.Fatalf("transcript = %+v", snap.Transcript)
	}
	if snap.Chats[0].LastMessage().ID != 77 {
		t.Fatalf("preview = %+v", snap.Chats[0].LastMessage())
	}
}

func TestSendNoops(t *testing.T) {
	closed := &recordingSender{}
	s := startSession(t, Config{UserID: 1, Chats: []model.Chat{privateChat(7, t0)}, History: &gatedFetcher{}, Sender: closed})

	if sent, _ := s.SendMessage("no chat yet"); sent {
		t.Fatal("send without active chat")
	}
	if err := s.SelectChat(context.Background(), privateChat(7, t0)); err != nil {
		t.Fatal(err)
	}
	s.SetCompose("   ")
	if sent, _ := s.SendCompose(); sent {
		t.Fatal("blank message sent")
	}
	s.SetCompose("lost")
	if sent, _ := s.SendCompose(); sent {
		t.Fatal("send on closed stream reported success")
	}
	snap := snapshot(t, s)
	if snap.Compose != "" || len(snap.Pending) != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Chats[0].LastMessage().Content != "old" {
		t.Fatalf("preview changed on dropped send: %+v", snap.Chats[0].LastMessage())
	}

	open := &recordingSender{open: true}
	if err := s.SetSender(open); err != nil {
		t.Fatal(err)
	}
	if sent, _ := s.SendMessage("ok"); !sent || len(open.frames) != 1 {
		t.Fatal("send after SetSender failed")
	}
}

func TestObserverSeesChanges(t *testing.T) {
	var mu sync.Mutex
	var kinds []ChangeKind
	s := startSession(t, Config{UserID: 1, Chats: []model.Chat{privateChat(7, t0)}, History: &gatedFetcher{},
		Observer: func(c Change) {
			mu.Lock()
			kinds = append(kinds, c.Kind)
			mu.Unlock()
		}})
	s.SelectChat(context.Background(), privateChat(7, t0))
	s.ReceiveStreamMessage(msg(1, model.ChatKey{Type: model.ChatTypePrivate, ID: 7}, 2, "x", t0.Add(time.Hour)))

	mu.Lock()
	defer mu.Unlock()
	want := []ChangeKind{ChangeTranscript, ChangeTranscript, ChangeTranscript, ChangeChats}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds = %v", kinds)
		}
	}
}

func TestStoppedSession(t *testing.T) {
	s := NewSession(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()
	cancel()
	<-done
	if _, err := s.Snapshot(); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v", err)
	}
}

func TestSenderName(t *testing.T) {
	g := model.Chat{ID: 1, Type: model.ChatTypeGroup, Group: &model.GroupChat{Members: []model.Member{{ID: 4, FirstName: "Ann", LastName: "Lee"}}}}
	if got := SenderName(g, 4); got != "Ann Lee" {
		t.Fatalf("name = %q", got)
	}
	if got := SenderName(privateChat(1, t0), 4); got != "" {
		t.Fatalf("private name = %q", got)
	}
}
