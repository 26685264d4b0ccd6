// Package api: запросы к удалённому сервису соцсети. Список чатов, история,
// начальная загрузка уведомлений и эндпоинты accept/decline.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/socialsync/internal/logger"
	"github.com/socialsync/internal/model"
)

var ErrUnauthorized = errors.New("unauthorized")

// StatusError: ответ не 2xx без пригодного тела.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote api: status %d", e.Code)
	}
	return fmt.Sprintf("remote api: status %d: %s", e.Code, e.Body)
}

type Options struct {
	BaseURL           string
	Token             string
	ChatListPath      string
	MessagesPath      string
	NotificationsPath string
	Timeout           time.Duration
	HTTPClient        *http.Client
}

type Client struct {
	baseURL string
	token   string
	opts    Options
	http    *http.Client
}

func NewClient(opts Options) *Client {
	if opts.ChatListPath == "" {
		opts.ChatListPath = "/chat-display"
	}
	if opts.MessagesPath == "" {
		opts.MessagesPath = "/chats/{chatId}/messages"
	}
	if opts.NotificationsPath == "" {
		opts.NotificationsPath = "/notifications/get"
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		token:   opts.Token,
		opts:    opts,
		http:    hc,
	}
}

// FetchChats загружает список чатов и профиль пользователя. Чаты с неверным
// вариантом пропускаются.
func (c *Client) FetchChats(ctx context.Context) (model.ChatList, error) {
	defer logger.DeferLogDuration("api.FetchChats", time.Now())()
	var out model.ChatList
	if err := c.do(ctx, http.MethodGet, c.opts.ChatListPath, nil, &out); err != nil {
		return model.ChatList{}, fmt.Errorf("fetch chats: %w", err)
	}
	valid := out.Chats[:0]
	for _, ch := range out.Chats {
		if err := ch.Validate(); err != nil {
			logger.Errorf("fetch chats: skipping chat: %v", err)
			continue
		}
		valid = append(valid, ch)
	}
	out.Chats = valid
	return out, nil
}

// FetchMessages: вся история чата, от старых к новым.
func (c *Client) FetchMessages(ctx context.Context, key model.ChatKey) ([]model.ChatMessage, error) {
	defer logger.DeferLogDuration("api.FetchMessages", time.Now())()
	path := strings.ReplaceAll(c.opts.MessagesPath, "{chatId}", strconv.FormatInt(key.ID, 10))
	path += "?chatType=" + url.QueryEscape(string(key.Type))
	var out []model.ChatMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("fetch messages %s: %w", key, err)
	}
	if out == nil {
		out = []model.ChatMessage{}
	}
	return out, nil
}

// FetchNotifications returns pending follow requests and group notifications.
func (c *Client) FetchNotifications(ctx context.Context) (model.NotificationList, error) {
	defer logger.DeferLogDuration("api.FetchNotifications", time.Now())()
	var out model.NotificationList
	if err := c.do(ctx, http.MethodGet, c.opts.NotificationsPath, nil, &out); err != nil {
		return model.NotificationList{}, fmt.Errorf("fetch notifications: %w", err)
	}
	return out, nil
}

type groupActionRequest struct {
	RequesterID int64           `json:"requesterId"`
	GroupID     int64           `json:"groupId,omitempty"`
	Type        model.EventType `json:"type"`
}

// GroupAction принимает или отклоняет приглашение или заявку в группу.
// join_request идёт в эндпоинты join, остальное в invite. Действие выполнено
// только при статусе "success".
func (c *Client) GroupAction(ctx context.Context, n *model.Notification, action model.Action) (model.ActionResult, error) {
	defer logger.DeferLogDuration("api.GroupAction", time.Now())()
	endpoint := "invite"
	if n.Type == model.EventJoinRequest {
		endpoint = "join"
	}
	path := fmt.Sprintf("/group/%d/%s/%s", n.GroupID, endpoint, action)
	body := groupActionRequest{RequesterID: n.RequesterID, GroupID: n.GroupID, Type: n.Type}

	var res model.ActionResult
	err := c.do(ctx, http.MethodPost, path, body, &res)
	var se *StatusError
	if errors.As(err, &se) {
		// и при ошибке тело {status, message} нужно UI
		if jerr := json.Unmarshal([]byte(se.Body), &res); jerr == nil && res.Status != "" {
			return res, nil
		}
	}
	if err != nil {
		return model.ActionResult{}, fmt.Errorf("group %s %s: %w", endpoint, action, err)
	}
	return res, nil
}

type followActionRequest struct {
	RequesterID int64 `json:"requesterId"`
	ReceiverID  int64 `json:"receiverId"`
}

// FollowAction принимает или отклоняет заявку в подписчики для receiverID.
// Тело ответа клиент не разбирает.
func (c *Client) FollowAction(ctx context.Context, requesterID, receiverID int64, action model.Action) (json.RawMessage, error) {
	defer logger.DeferLogDuration("api.FollowAction", time.Now())()
	path := fmt.Sprintf("/follow/%s-follow-request", action)
	var res json.RawMessage
	if err := c.do(ctx, http.MethodPost, path, followActionRequest{RequesterID: requesterID, ReceiverID: receiverID}, &res); err != nil {
		return nil, fmt.Errorf("follow %s: %w", action, err)
	}
	return res, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
