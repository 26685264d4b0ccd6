// Package notify: разбор событий стрима уведомлений на две очереди (заявки в
// подписчики и общие уведомления) и принятие/отклонение заявок.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/socialsync/internal/logger"
	"github.com/socialsync/internal/model"
	"github.com/socialsync/internal/storage"
)

// Service: удалённая сторона роутера. Начальная загрузка и эндпоинты accept/decline.
type Service interface {
	FetchNotifications(ctx context.Context) (model.NotificationList, error)
	GroupAction(ctx context.Context, n *model.Notification, action model.Action) (model.ActionResult, error)
	FollowAction(ctx context.Context, requesterID, receiverID int64, action model.Action) (json.RawMessage, error)
}

// Notifier узнаёт о каждом событии из стрима.
type Notifier interface {
	NotifyEvent(ctx context.Context, ev model.Event) error
}

// Kind выбирает очередь. Id уникальны только внутри одного Kind.
type Kind string

const (
	KindFollow Kind = "follow"
	KindGroup  Kind = "group"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindFollow, KindGroup:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown notification kind %q", s)
}

// DecisionKey is the overlay key for an event.
func DecisionKey(kind Kind, id int64) string {
	return string(kind) + ":" + strconv.FormatInt(id, 10)
}

var (
	ErrUnknownEvent   = errors.New("notification not found")
	ErrAlreadyDecided = errors.New("notification already decided")
	ErrNotActionable  = errors.New("notification cannot be accepted or declined")
	ErrInFlight       = errors.New("action already in progress")
)

// ActionError: эндпоинт accept/decline ответил статусом error и сообщением.
type ActionError struct {
	Kind    Kind
	ID      int64
	Message string
}

func (e *ActionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %d: action rejected", e.Kind, e.ID)
	}
	return fmt.Sprintf("%s %d: %s", e.Kind, e.ID, e.Message)
}

type Config struct {
	UserID  int64
	Service Service
	Store   storage.DecisionStore
	// Observer и Notifier необязательны. Observer вызывается под блокировкой
	// роутера и не должен к нему обращаться.
	Observer      func(View)
	Notifier      Notifier
	NotifyTimeout time.Duration
}

type Router struct {
	userID        int64
	svc           Service
	store         storage.DecisionStore
	observer      func(View)
	notifier      Notifier
	notifyTimeout time.Duration

	mu            sync.Mutex
	follows       []model.FollowRequest
	notifications []model.Notification
	decisions     map[string]model.NotificationStatus
	inflight      map[string]bool
}

func NewRouter(cfg Config) *Router {
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	return &Router{
		userID:        cfg.UserID,
		svc:           cfg.Service,
		store:         cfg.Store,
		observer:      cfg.Observer,
		notifier:      cfg.Notifier,
		notifyTimeout: cfg.NotifyTimeout,
		decisions:     make(map[string]model.NotificationStatus),
		inflight:      make(map[string]bool),
	}
}

// Route добавляет событие из стрима в начало его очереди.
func (r *Router) Route(ev model.Event) error {
	r.mu.Lock()
	switch e := ev.(type) {
	case *model.FollowRequest:
		r.follows = prependFollow(r.follows, *e)
	case *model.Notification:
		r.notifications = prependNotification(r.notifications, *e)
	default:
		r.mu.Unlock()
		return fmt.Errorf("%w: unsupported event %T", ErrUnknownEvent, ev)
	}
	r.emitLocked()
	r.mu.Unlock()

	if r.notifier != nil {
		go r.forward(ev)
	}
	return nil
}

func (r *Router) forward(ev model.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.notifyTimeout)
	defer cancel()
	if err := r.notifier.NotifyEvent(ctx, ev); err != nil {
		logger.Errorf("notify: push for %s %d: %v", ev.EventType(), ev.EventID(), err)
	}
}

// prependFollow ставит f первым и убирает старую копию с тем же id.
func prependFollow(q []model.FollowRequest, f model.FollowRequest) []model.FollowRequest {
	out := make([]model.FollowRequest, 0, len(q)+1)
	out = append(out, f)
	for _, x := range q {
		if x.ID != f.ID {
			out = append(out, x)
		}
	}
	return out
}

func prependNotification(q []model.Notification, n model.Notification) []model.Notification {
	out := make([]model.Notification, 0, len(q)+1)
	out = append(out, n)
	for _, x := range q {
		if x.ID != n.ID {
			out = append(out, x)
		}
	}
	return out
}

// Bootstrap загружает очереди и сохранённые решения. При ошибке загрузки
// очереди не меняются. События, уже пришедшие из стрима, остаются впереди
// загруженных.
func (r *Router) Bootstrap(ctx context.Context) {
	if r.store != nil {
		decisions, err := r.store.Decisions(ctx)
		if err != nil {
			logger.Errorf("notify: load decisions: %v", err)
		} else {
			r.mu.Lock()
			for k, v := range decisions {
				r.decisions[k] = v
			}
			r.mu.Unlock()
		}
	}

	list, err := r.svc.FetchNotifications(ctx)
	if err != nil {
		logger.Errorf("notify: bootstrap fetch: %v", err)
		list = model.NotificationList{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	follows := append([]model.FollowRequest{}, list.UserNotifications...)
	for i := len(r.follows) - 1; i >= 0; i-- {
		follows = prependFollow(follows, r.follows[i])
	}
	notifications := append([]model.Notification{}, list.GroupNotifications...)
	for i := len(r.notifications) - 1; i >= 0; i-- {
		notifications = prependNotification(notifications, r.notifications[i])
	}
	r.follows, r.notifications = follows, notifications
	r.emitLocked()
}

// ActOn принимает или отклоняет событие kind/id. Решение записывается только
// при успехе на удалённой стороне; после этого действия по событию запрещены.
func (r *Router) ActOn(ctx context.Context, kind Kind, id int64, action model.Action) (model.NotificationStatus, error) {
	key := DecisionKey(kind, id)

	r.mu.Lock()
	if _, ok := r.decisions[key]; ok {
		r.mu.Unlock()
		return "", ErrAlreadyDecided
	}
	if r.inflight[key] {
		r.mu.Unlock()
		return "", ErrInFlight
	}
	var (
		follow *model.FollowRequest
		group  *model.Notification
	)
	switch kind {
	case KindFollow:
		if f, ok := findFollow(r.follows, id); ok {
			follow = &f
		}
	case KindGroup:
		if n, ok := findNotification(r.notifications, id); ok {
			group = &n
		}
	}
	if follow == nil && group == nil {
		r.mu.Unlock()
		return "", ErrUnknownEvent
	}
	if group != nil && !actionableNotification(*group) {
		r.mu.Unlock()
		return "", ErrNotActionable
	}
	r.inflight[key] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.inflight, key)
		r.mu.Unlock()
	}()

	if d := r.storedDecision(ctx, key); d != "" {
		r.mu.Lock()
		r.decisions[key] = d
		r.emitLocked()
		r.mu.Unlock()
		return "", ErrAlreadyDecided
	}

	if group != nil {
		res, err := r.svc.GroupAction(ctx, group, action)
		if err != nil {
			return "", fmt.Errorf("group %s %d: %w", action, id, err)
		}
		if res.Status != model.ResultSuccess {
			return "", &ActionError{Kind: kind, ID: id, Message: res.Message}
		}
	} else {
		if _, err := r.svc.FollowAction(ctx, follow.RequesterID, r.userID, action); err != nil {
			return "", fmt.Errorf("follow %s %d: %w", action, id, err)
		}
	}

	decision := action.Decision()
	if r.store != nil {
		if err := r.store.SetDecision(ctx, key, decision); err != nil {
			logger.Errorf("notify: persist decision %s: %v", key, err)
		}
	}
	r.mu.Lock()
	r.decisions[key] = decision
	r.emitLocked()
	r.mu.Unlock()
	logger.Infof("notify: %s %s", key, decision)
	return decision, nil
}

// storedDecision читает решение из хранилища, если кэш не был загружен в Bootstrap.
// Ошибка хранилища не блокирует действие.
func (r *Router) storedDecision(ctx context.Context, key string) model.NotificationStatus {
	if r.store == nil {
		return ""
	}
	d, err := r.store.GetDecision(ctx, key)
	if err != nil {
		logger.Errorf("notify: read decision %s: %v", key, err)
		return ""
	}
	return d
}

func findFollow(q []model.FollowRequest, id int64) (model.FollowRequest, bool) {
	for _, f := range q {
		if f.ID == id {
			return f, true
		}
	}
	return model.FollowRequest{}, false
}

func findNotification(q []model.Notification, id int64) (model.Notification, bool) {
	for _, n := range q {
		if n.ID == id {
			return n, true
		}
	}
	return model.Notification{}, false
}

// actionableNotification: приглашения и заявки в группу, ещё ожидающие
// решения. Пустой статус считается pending.
func actionableNotification(n model.Notification) bool {
	return n.IsGroupRequest() && (n.Status == "" || n.Status == model.StatusPending)
}

// IsEmpty reports whether both queues are empty.
func (r *Router) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.follows) == 0 && len(r.notifications) == 0
}

type FollowItem struct {
	model.FollowRequest
	Decision   model.NotificationStatus `json:"decision,omitempty"`
	Actionable bool                     `json:"actionable"`
}

type NotificationItem struct {
	model.Notification
	Decision   model.NotificationStatus `json:"decision,omitempty"`
	Actionable bool                     `json:"actionable"`
}

// View: копия обеих очередей с наложенными решениями.
type View struct {
	Follows       []FollowItem       `json:"followRequests"`
	Notifications []NotificationItem `json:"notifications"`
	Empty         bool               `json:"empty"`
}

func (r *Router) Snapshot() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

func (r *Router) viewLocked() View {
	v := View{
		Follows:       make([]FollowItem, 0, len(r.follows)),
		Notifications: make([]NotificationItem, 0, len(r.notifications)),
		Empty:         len(r.follows) == 0 && len(r.notifications) == 0,
	}
	for _, f := range r.follows {
		d := r.decisions[DecisionKey(KindFollow, f.ID)]
		v.Follows = append(v.Follows, FollowItem{FollowRequest: f, Decision: d, Actionable: d == ""})
	}
	for _, n := range r.notifications {
		d := r.decisions[DecisionKey(KindGroup, n.ID)]
		v.Notifications = append(v.Notifications, NotificationItem{
			Notification: n,
			Decision:     d,
			Actionable:   d == "" && actionableNotification(n),
		})
	}
	return v
}

func (r *Router) emitLocked() {
	if r.observer != nil {
		r.observer(r.viewLocked())
	}
}
