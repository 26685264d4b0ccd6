package storage

import (
	"context"
	"errors"

	"github.com/socialsync/internal/model"
)

// DecisionStore: локальные решения accept/decline по уведомлениям.
// Ключ: "follow:{id}" или "group:{id}", id двух очередей независимы.
// Реализации: redis.Client, memory.Client (по умолчанию, без Redis).
type DecisionStore interface {
	SetDecision(ctx context.Context, key string, decision model.NotificationStatus) error
	// GetDecision возвращает "" если решения нет.
	GetDecision(ctx context.Context, key string) (model.NotificationStatus, error)
	Decisions(ctx context.Context) (map[string]model.NotificationStatus, error)
	Close() error
}

var ErrInvalidDecision = errors.New("decision must be accepted or declined")

// ValidDecision: в хранилище попадают только терминальные статусы.
func ValidDecision(d model.NotificationStatus) error {
	if d != model.StatusAccepted && d != model.StatusDeclined {
		return ErrInvalidDecision
	}
	return nil
}
