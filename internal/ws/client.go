package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"
	"github.com/socialsync/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Команды UI маленькие: только send_message несёт текст.
	maxCommandSize  = 8192
	maxContentRunes = 2000

	sendBufSize = 256
)

var (
	errMalformedCommand = errors.New("malformed command")
	errUnknownCommand   = errors.New("unknown event type")
	errContentTooLong   = errors.New("message too long")
)

// decodeCommand разбирает кадр от UI и проверяет поля, которые нужны его типу.
func decodeCommand(raw []byte) (IncomingMessage, error) {
	var msg IncomingMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, errMalformedCommand
	}
	switch msg.Type {
	case EventSelectChat, EventNotificationAction:
	case EventSendMessage:
		if utf8.RuneCountInString(msg.Content) > maxContentRunes {
			return msg, errContentTooLong
		}
	default:
		return msg, errUnknownCommand
	}
	return msg, nil
}

// Client: одно подключение UI к шлюзу. Кадры кодируются заранее, чтобы
// Broadcast сериализовал изменение один раз на всех клиентов.
// Жизненный цикл: NewClient -> Start -> [readPump, writePump] -> Close -> Wait.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	frames chan []byte
	id     string

	closed chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, bufSize int) *Client {
	if bufSize <= 0 {
		bufSize = sendBufSize
	}
	return &Client{
		hub:    hub,
		conn:   conn,
		frames: make(chan []byte, bufSize),
		id:     uuid.NewString(),
		closed: make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

// Start запускает насосы. Команды UI выполняются с контекстом, который
// отменяется при Close.
func (c *Client) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

func (c *Client) Wait() { c.wg.Wait() }

// Close можно вызывать повторно и из любой горутины.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.closed)
		c.conn.Close()
	})
}

// enqueue кладёт готовый кадр в очередь. false: очередь переполнена.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.closed:
		return true
	default:
	}
	select {
	case c.frames <- frame:
		return true
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxCommandSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("ws client=%s: set read deadline: %v", c.id, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws client=%s: read: %v", c.id, err)
			}
			return
		}
		msg, err := decodeCommand(raw)
		if err != nil {
			logger.Debugf("ws client=%s: rejected command: %v", c.id, err)
			c.hub.sendToClient(c, errorMessage(err.Error()))
			continue
		}
		c.hub.HandleMessage(ctx, c, msg)
	}
}

func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		case frame := <-c.frames:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Debugf("ws client=%s: write: %v", c.id, err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
