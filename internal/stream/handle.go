// Package stream: долгоживущие WebSocket-соединения с удалённым сервисом.
// Handle создаёт Open и закрывает Close. Глобального состояния соединений нет,
// переподключения тоже.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/socialsync/internal/logger"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 64 << 10
	defaultSendBufSize    = 256
)

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Options: параметры одного соединения.
type Options struct {
	// Name попадает в логи ("messages", "notifications").
	Name string
	// URL: ws:// или wss:// без токена.
	URL string
	// Token передаётся в query-параметре authorization.
	Token string

	Dialer         *websocket.Dialer
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	MaxMessageSize int64
	SendBufferSize int
}

func (o *Options) applyDefaults() {
	if o.Dialer == nil {
		d := *websocket.DefaultDialer
		o.Dialer = &d
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteWait
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = defaultPongWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = defaultSendBufSize
	}
}

// FrameHandler получает входящие кадры в порядке прихода. Ошибка отбрасывает
// только этот кадр, чтение продолжается.
type FrameHandler func(raw []byte) error

// Handle: один открытый стрим.
// Жизненный цикл: Open -> [readPump, writePump] -> Close или ошибка транспорта -> Done.
type Handle struct {
	name string
	opts Options
	conn *websocket.Conn
	send chan any

	state    atomic.Int32
	sendMu   sync.Mutex // после закрытия stop очередь send не пополняется
	stop     chan struct{}
	stopOnce sync.Once
	finished chan struct{}
	wg       sync.WaitGroup

	errMu sync.Mutex
	err   error
}

// ErrClosed возвращает Err после явного Close.
var ErrClosed = errors.New("stream closed")

// AuthorizedURL добавляет к raw параметр authorization.
func AuthorizedURL(raw, token string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	q := u.Query()
	q.Set("authorization", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Open подключается и запускает насосы. ctx ограничивает только dial:
// соединение живёт до Close или ошибки транспорта.
func Open(ctx context.Context, opts Options, onFrame FrameHandler) (*Handle, error) {
	opts.applyDefaults()
	target, err := AuthorizedURL(opts.URL, opts.Token)
	if err != nil {
		return nil, err
	}
	conn, resp, err := opts.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s stream: %w (status %d)", opts.Name, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s stream: %w", opts.Name, err)
	}

	h := &Handle{
		name:     opts.Name,
		opts:     opts,
		conn:     conn,
		send:     make(chan any, opts.SendBufferSize),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	h.state.Store(int32(StateOpen))
	h.wg.Add(2)
	go h.writePump()
	go h.readPump(onFrame)
	go func() {
		h.wg.Wait()
		close(h.finished)
	}()
	logger.Infof("stream %s: connected", h.name)
	return h, nil
}

func (h *Handle) State() State { return State(h.state.Load()) }

// Done is closed once both pumps have exited.
func (h *Handle) Done() <-chan struct{} { return h.finished }

// Err: причина остановки, nil пока стрим открыт.
func (h *Handle) Err() error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return h.err
}

// Send ставит v в очередь на запись. Если стрим не открыт, возвращает false
// и ничего не откладывает. Кадр, принятый до Close, пишется до close-сообщения.
func (h *Handle) Send(v any) bool {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	if h.State() != StateOpen {
		return false
	}
	select {
	case h.send <- v:
		return true
	default:
		logger.Errorf("stream %s: send buffer full, frame dropped", h.name)
		return false
	}
}

// Close останавливает стрим. Можно вызывать повторно из любой горутины.
func (h *Handle) Close() {
	h.shutdown(ErrClosed)
}

// Wait blocks until both pumps have exited.
func (h *Handle) Wait() { <-h.finished }

func (h *Handle) shutdown(cause error) {
	h.stopOnce.Do(func() {
		h.errMu.Lock()
		h.err = cause
		h.errMu.Unlock()
		h.sendMu.Lock()
		h.state.Store(int32(StateClosed))
		close(h.stop)
		h.sendMu.Unlock()
	})
}

func (h *Handle) readPump(onFrame FrameHandler) {
	defer h.wg.Done()
	defer h.conn.Close()

	h.conn.SetReadLimit(h.opts.MaxMessageSize)
	if err := h.conn.SetReadDeadline(time.Now().Add(h.opts.PongTimeout)); err != nil {
		logger.Errorf("stream %s: set read deadline: %v", h.name, err)
		h.shutdown(err)
		return
	}
	h.conn.SetPongHandler(func(string) error {
		return h.conn.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
	})

	for {
		_, raw, err := h.conn.ReadMessage()
		if err != nil {
			if h.State() != StateClosed {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Errorf("stream %s: read error: %v", h.name, err)
				} else {
					logger.Infof("stream %s: disconnected: %v", h.name, err)
				}
			}
			h.shutdown(fmt.Errorf("stream %s: %w", h.name, err))
			return
		}
		if err := onFrame(raw); err != nil {
			logger.Errorf("stream %s: frame dropped: %v", h.name, err)
		}
	}
}

func (h *Handle) writePump() {
	defer h.wg.Done()
	ticker := time.NewTicker((h.opts.PongTimeout * 9) / 10)
	defer func() {
		ticker.Stop()
		h.conn.Close()
	}()

	for {
		select {
		case <-h.stop:
			if !h.flush() {
				return
			}
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := h.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.opts.WriteTimeout)); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				logger.Debugf("stream %s: close message: %v", h.name, err)
			}
			return
		case v := <-h.send:
			if err := h.writeFrame(v); err != nil {
				logger.Errorf("stream %s: write: %v", h.name, err)
				h.shutdown(fmt.Errorf("stream %s: %w", h.name, err))
				return
			}
		case <-ticker.C:
			if err := h.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
				h.shutdown(fmt.Errorf("stream %s: ping: %w", h.name, err))
				return
			}
		}
	}
}

// flush дописывает кадры, принятые Send до закрытия. false: соединение уже не пишет.
func (h *Handle) flush() bool {
	for {
		select {
		case v := <-h.send:
			if err := h.writeFrame(v); err != nil {
				logger.Debugf("stream %s: flush: %v", h.name, err)
				return false
			}
		default:
			return true
		}
	}
}

func (h *Handle) writeFrame(v any) error {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		logger.Errorf("stream %s: marshal frame: %v", h.name, err)
		return nil
	}
	if err := h.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout)); err != nil {
		return err
	}
	return h.conn.WriteMessage(websocket.TextMessage, bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}))
}
