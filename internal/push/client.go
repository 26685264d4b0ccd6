package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/socialsync/internal/model"
)

// Client вызывает сервис пуш-уведомлений от имени пользователя сессии.
// Если URL пустой: методы no-op.
type Client struct {
	baseURL    string
	userID     string
	httpClient *http.Client
}

// NewClient создаёт клиент. baseURL пустой: пуши отключены.
func NewClient(baseURL string, userID int64) *Client {
	c := &Client{userID: strconv.FormatInt(userID, 10)}
	if baseURL == "" {
		return c
	}
	c.baseURL = strings.TrimSuffix(baseURL, "/")
	c.httpClient = &http.Client{Timeout: 10 * time.Second}
	return c
}

func (c *Client) Enabled() bool { return c.baseURL != "" }

// SubscribeRequest: тело запроса подписки.
type SubscribeRequest struct {
	UserID       string           `json:"user_id"`
	Subscription PushSubscription `json:"subscription"`
}

// PushSubscription: подписка из браузера.
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Subscribe сохраняет подписку браузера на push-сервисе.
func (c *Client) Subscribe(ctx context.Context, sub PushSubscription) error {
	if !c.Enabled() {
		return nil
	}
	return c.post(ctx, http.MethodPost, "/api/subscribe", SubscribeRequest{UserID: c.userID, Subscription: sub})
}

// Unsubscribe удаляет подписку по endpoint.
func (c *Client) Unsubscribe(ctx context.Context, endpoint string) error {
	if !c.Enabled() {
		return nil
	}
	return c.post(ctx, http.MethodDelete, "/api/subscribe", map[string]string{"user_id": c.userID, "endpoint": endpoint})
}

// NotifyRequest: запрос на отправку уведомления.
type NotifyRequest struct {
	UserID string            `json:"user_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// NotifyEvent отправляет пуш о новом событии из стрима уведомлений.
func (c *Client) NotifyEvent(ctx context.Context, ev model.Event) error {
	if !c.Enabled() {
		return nil
	}
	title, body := describe(ev)
	return c.post(ctx, http.MethodPost, "/api/notify", NotifyRequest{
		UserID: c.userID,
		Title:  title,
		Body:   body,
		Data: map[string]string{
			"type": string(ev.EventType()),
			"id":   strconv.FormatInt(ev.EventID(), 10),
		},
	})
}

func describe(ev model.Event) (title, body string) {
	switch e := ev.(type) {
	case *model.FollowRequest:
		name := strings.TrimSpace(e.FirstName + " " + e.LastName)
		if name == "" {
			name = "Someone"
		}
		return "New follow request", name + " wants to follow you"
	case *model.Notification:
		switch e.Type {
		case model.EventInviteGroupRequest:
			title = "Group invitation"
		case model.EventJoinRequest:
			title = "Join request"
		default:
			title = "Notification"
		}
		return title, e.Content
	}
	return "Notification", ""
}

func (c *Client) post(ctx context.Context, method, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push %s %s: %d", method, path, resp.StatusCode)
	}
	return nil
}
