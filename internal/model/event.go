package model

import (
	"encoding/json"
	"fmt"
)

// EventType: поле "type" кадра стрима уведомлений.
type EventType string

const (
	EventFollowRequest       EventType = "follow_request"
	EventInviteGroupRequest  EventType = "invite_group_request"
	EventJoinRequest         EventType = "join_request"
	EventJoinRequestResponse EventType = "join_request_response"
)

type NotificationStatus string

const (
	StatusPending  NotificationStatus = "pending"
	StatusAccepted NotificationStatus = "accepted"
	StatusDeclined NotificationStatus = "declined"
)

// Action is what the user does with an actionable event.
type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
)

func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionAccept, ActionDecline:
		return Action(s), nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Decision: итоговое состояние, которое записывается локально после успешного действия.
func (a Action) Decision() NotificationStatus {
	if a == ActionAccept {
		return StatusAccepted
	}
	return StatusDeclined
}

// Event: событие стрима уведомлений, *FollowRequest или *Notification.
type Event interface {
	EventID() int64
	EventType() EventType
	isEvent()
}

type FollowRequest struct {
	ID          int64     `json:"id"`
	RequesterID int64     `json:"requesterId"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	Type        EventType `json:"type"`
}

func (f *FollowRequest) EventID() int64       { return f.ID }
func (f *FollowRequest) EventType() EventType { return EventFollowRequest }
func (*FollowRequest) isEvent()               {}

// Notification: приглашения и заявки в группы и любые другие события, кроме
// follow_request, в том числе кадры без type.
type Notification struct {
	ID          int64              `json:"id"`
	RequesterID int64              `json:"requesterId"`
	ReceiverID  int64              `json:"receiverId"`
	GroupID     int64              `json:"groupId,omitempty"`
	Content     string             `json:"content"`
	Type        EventType          `json:"type"`
	Status      NotificationStatus `json:"status"`
}

func (n *Notification) EventID() int64       { return n.ID }
func (n *Notification) EventType() EventType { return n.Type }
func (*Notification) isEvent()               {}

// IsGroupRequest: уведомление можно принять или отклонить через эндпоинты групп.
func (n *Notification) IsGroupRequest() bool {
	return n.Type == EventInviteGroupRequest || n.Type == EventJoinRequest
}

// DecodeEvent разбирает кадр уведомления. Классификация полная: всё, что не
// follow_request, становится Notification. Ошибка только для битого JSON.
func DecodeEvent(data []byte) (Event, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	switch head.Type {
	case EventFollowRequest:
		var f FollowRequest
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode follow request: %w", err)
		}
		return &f, nil
	default:
		var n Notification
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, fmt.Errorf("decode notification: %w", err)
		}
		return &n, nil
	}
}

// NotificationList: начальная загрузка уведомлений. Любой из срезов может прийти null.
type NotificationList struct {
	UserNotifications  []FollowRequest `json:"userNotifications"`
	GroupNotifications []Notification  `json:"groupNotifications"`
}

// ActionResult: тело ответа эндпоинтов accept/decline для групп.
type ActionResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

const (
	ResultSuccess = "success"
	ResultError   = "error"
)
