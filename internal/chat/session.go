// Package chat: сессия чатов. Выбор активного чата, загрузка истории,
// сообщения из стрима и оптимистичная отправка.
//
// Состоянием владеет одна горутина (Run). Публичные методы передают ей
// замыкание и ждут его выполнения, поэтому список чатов и переписка меняются
// только в одном месте. Сетевые вызовы в этой горутине не выполняются.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/socialsync/internal/logger"
	"github.com/socialsync/internal/model"
	"github.com/socialsync/internal/registry"
)

// HistoryFetcher загружает всю историю чата, от старых к новым.
type HistoryFetcher interface {
	FetchMessages(ctx context.Context, key model.ChatKey) ([]model.ChatMessage, error)
}

// Sender отправляет кадр в стрим сообщений. false: стрим не открыт, кадр отброшен.
type Sender interface {
	SendMessage(msg model.OutgoingMessage) bool
}

type State int

const (
	NoChatSelected State = iota
	LoadingHistory
	TranscriptReady
)

func (s State) String() string {
	switch s {
	case LoadingHistory:
		return "loading"
	case TranscriptReady:
		return "ready"
	default:
		return "none"
	}
}

type ChangeKind string

const (
	ChangeChats      ChangeKind = "chats_updated"
	ChangeTranscript ChangeKind = "transcript_updated"
)

// Change получает наблюдатель после каждого изменения. Срезы скопированы.
// Наблюдатель вызывается в горутине сессии и не должен обращаться к ней.
type Change struct {
	Kind       ChangeKind          `json:"kind"`
	Chats      []model.Chat        `json:"chats,omitempty"`
	Active     model.ChatKey       `json:"-"`
	Transcript []model.ChatMessage `json:"transcript,omitempty"`
}

// Pending: оптимистичное сообщение, которое стрим ещё не подтвердил.
type Pending struct {
	LocalID string            `json:"localId"`
	Message model.ChatMessage `json:"message"`
}

const maxPending = 100

type Config struct {
	UserID  int64
	Chats   []model.Chat
	History HistoryFetcher
	Sender  Sender
	// Observer is optional.
	Observer     func(Change)
	FetchTimeout time.Duration
	Now          func() time.Time
}

var ErrStopped = errors.New("chat session stopped")

type Session struct {
	userID       int64
	history      HistoryFetcher
	observer     func(Change)
	fetchTimeout time.Duration
	now          func() time.Time

	ops     chan func()
	started chan struct{}
	stopped chan struct{}
	runCtx  context.Context

	// только горутина Run
	sender     Sender
	chats      []model.Chat
	state      State
	active     model.Chat
	activeKey  model.ChatKey
	generation uint64
	transcript []model.ChatMessage
	pending    []Pending
	compose    string
}

// NewSession создаёт сессию поверх начального списка чатов (список сортируется).
func NewSession(cfg Config) *Session {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Session{
		userID:       cfg.UserID,
		history:      cfg.History,
		observer:     cfg.Observer,
		fetchTimeout: cfg.FetchTimeout,
		now:          cfg.Now,
		sender:       cfg.Sender,
		chats:        registry.Sort(cfg.Chats),
		ops:          make(chan func()),
		started:      make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

// Run выполняет операции сессии до отмены ctx.
func (s *Session) Run(ctx context.Context) {
	s.runCtx = ctx
	close(s.started)
	defer close(s.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-s.ops:
			op()
		}
	}
}

// do выполняет fn в горутине сессии и ждёт завершения.
func (s *Session) do(fn func()) error {
	done := make(chan struct{})
	select {
	case s.ops <- func() { defer close(done); fn() }:
	case <-s.stopped:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-s.stopped:
		return ErrStopped
	}
}

// SetSender подключает исходящий стрим после его открытия.
func (s *Session) SetSender(sender Sender) error {
	return s.do(func() { s.sender = sender })
}

// SelectChat делает chat активным, очищает переписку и загружает историю.
// Возвращается, когда история применена или отброшена, потому что за это
// время выбрали другой чат. При ошибке загрузки переписка остаётся пустой,
// включая сообщения, пришедшие из стрима во время загрузки; ошибка не
// возвращается.
func (s *Session) SelectChat(ctx context.Context, chat model.Chat) error {
	key := chat.Key()
	var gen uint64
	err := s.do(func() {
		if known, ok := registry.Find(s.chats, key); ok {
			chat = known
		}
		s.generation++
		gen = s.generation
		s.active = chat
		s.activeKey = key
		s.transcript = nil
		s.state = LoadingHistory
		s.emitTranscript()
	})
	if err != nil {
		return err
	}

	<-s.started
	fetchCtx, cancel := context.WithTimeout(s.runCtx, s.fetchTimeout)
	defer cancel()
	msgs, fetchErr := s.fetchHistory(fetchCtx, key)

	return s.do(func() {
		if gen != s.generation || key != s.activeKey {
			logger.Debugf("chat: discarding stale history for %s (active %s)", key, s.activeKey)
			return
		}
		if fetchErr != nil {
			logger.Errorf("chat: load history %s: %v", key, fetchErr)
			s.transcript = nil
		} else {
			s.transcript = mergeHistory(msgs, s.transcript)
		}
		s.state = TranscriptReady
		s.emitTranscript()
	})
}

func (s *Session) fetchHistory(ctx context.Context, key model.ChatKey) ([]model.ChatMessage, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.FetchMessages(ctx, key)
}

// mergeHistory: загруженная история, за ней сообщения из стрима, пришедшие
// во время загрузки и отсутствующие в истории.
func mergeHistory(history, live []model.ChatMessage) []model.ChatMessage {
	out := make([]model.ChatMessage, 0, len(history)+len(live))
	out = append(out, history...)
	if len(live) == 0 {
		return out
	}
	seen := make(map[int64]struct{}, len(history))
	for _, m := range history {
		seen[m.ID] = struct{}{}
	}
	for _, m := range live {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		out = append(out, m)
	}
	return out
}

// ReceiveStreamMessage применяет сообщение из стрима: к списку чатов всегда,
// к переписке, если оно относится к активному чату.
func (s *Session) ReceiveStreamMessage(msg model.ChatMessage) error {
	return s.do(func() {
		key := msg.Key()
		if !s.activeKey.IsZero() && key == s.activeKey && !s.inTranscript(msg.ID) {
			s.transcript = append(s.transcript, msg)
			s.emitTranscript()
		}
		if msg.SenderID == s.userID {
			s.confirmPending(msg)
		}
		s.chats = registry.ApplyMessage(s.chats, msg)
		s.emitChats()
	})
}

func (s *Session) inTranscript(id int64) bool {
	if id <= 0 {
		return false
	}
	for i := range s.transcript {
		if s.transcript[i].ID == id {
			return true
		}
	}
	return false
}

// confirmPending снимает самую старую оптимистичную запись с тем же чатом и текстом.
func (s *Session) confirmPending(msg model.ChatMessage) {
	key := msg.Key()
	for i, p := range s.pending {
		if p.Message.Key() == key && p.Message.Content == msg.Content {
			s.pending = append(s.pending[:i:i], s.pending[i+1:]...)
			return
		}
	}
}

// SetCompose replaces the compose buffer.
func (s *Session) SetCompose(text string) error {
	return s.do(func() { s.compose = text })
}

// SendCompose sends the compose buffer. See SendMessage.
func (s *Session) SendCompose() (bool, error) {
	var sent bool
	err := s.do(func() { sent = s.send(s.compose) })
	return sent, err
}

// SendMessage отправляет text в активный чат. Если стрим принял кадр,
// оптимистичная копия становится превью чата в списке. Пустой текст, отсутствие
// активного чата или закрытый стрим: ничего не происходит. Поле ввода
// очищается в любом случае.
func (s *Session) SendMessage(text string) (bool, error) {
	var sent bool
	err := s.do(func() { sent = s.send(text) })
	return sent, err
}

func (s *Session) send(text string) bool {
	defer func() { s.compose = "" }()
	if strings.TrimSpace(text) == "" || s.activeKey.IsZero() {
		return false
	}
	if s.sender == nil || !s.sender.SendMessage(model.NewOutgoingMessage(s.activeKey, text)) {
		logger.Errorf("chat: message stream not open, message to %s dropped", s.activeKey)
		return false
	}

	optimistic := model.ChatMessage{
		ID:        model.OptimisticID,
		SenderID:  s.userID,
		Content:   text,
		CreatedAt: s.now().UTC(),
	}
	optimistic.Target(s.activeKey)
	s.pending = append(s.pending, Pending{LocalID: uuid.NewString(), Message: optimistic})
	if len(s.pending) > maxPending {
		s.pending = s.pending[len(s.pending)-maxPending:]
	}
	s.chats = registry.ApplyMessage(s.chats, optimistic)
	s.emitChats()
	return true
}

// Snapshot: копия состояния сессии.
type Snapshot struct {
	State      State               `json:"-"`
	StateName  string              `json:"state"`
	Active     *model.Chat         `json:"active,omitempty"`
	Chats      []model.Chat        `json:"chats"`
	Transcript []model.ChatMessage `json:"transcript"`
	Pending    []Pending           `json:"pending"`
	Compose    string              `json:"compose"`
}

func (s *Session) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.do(func() {
		snap = Snapshot{
			State:      s.state,
			StateName:  s.state.String(),
			Chats:      append([]model.Chat{}, s.chats...),
			Transcript: append([]model.ChatMessage{}, s.transcript...),
			Pending:    append([]Pending{}, s.pending...),
			Compose:    s.compose,
		}
		if !s.activeKey.IsZero() {
			if c, ok := registry.Find(s.chats, s.activeKey); ok {
				snap.Active = &c
			} else {
				active := s.active
				snap.Active = &active
			}
		}
	})
	return snap, err
}

// Chats returns the ordered chat list.
func (s *Session) Chats() ([]model.Chat, error) {
	var out []model.Chat
	err := s.do(func() { out = append([]model.Chat{}, s.chats...) })
	return out, err
}

func (s *Session) emitChats() {
	if s.observer == nil {
		return
	}
	s.observer(Change{Kind: ChangeChats, Chats: append([]model.Chat{}, s.chats...)})
}

func (s *Session) emitTranscript() {
	if s.observer == nil {
		return
	}
	s.observer(Change{
		Kind:       ChangeTranscript,
		Active:     s.activeKey,
		Transcript: append([]model.ChatMessage{}, s.transcript...),
	})
}

// SenderName: имя участника группы для подписи сообщения. Для личных чатов и
// неизвестных участников "".
func SenderName(chat model.Chat, senderID int64) string {
	if chat.Type != model.ChatTypeGroup || chat.Group == nil {
		return ""
	}
	for _, m := range chat.Group.Members {
		if m.ID == senderID {
			return m.FullName()
		}
	}
	return ""
}
