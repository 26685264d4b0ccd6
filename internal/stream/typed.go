package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/socialsync/internal/model"
)

// MessageStream: входящие сообщения чатов и исходящие кадры.
type MessageStream struct {
	*Handle
}

// OpenMessageStream подключает стрим сообщений. onMessage вызывается в
// горутине чтения, по одному кадру, в порядке прихода.
func OpenMessageStream(ctx context.Context, opts Options, onMessage func(model.ChatMessage)) (*MessageStream, error) {
	if opts.Name == "" {
		opts.Name = "messages"
	}
	h, err := Open(ctx, opts, func(raw []byte) error {
		var msg model.ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return fmt.Errorf("decode chat message: %w", err)
		}
		if err := msg.Validate(); err != nil {
			return err
		}
		onMessage(msg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &MessageStream{Handle: h}, nil
}

// SendMessage transmits one outbound chat frame if the stream is open.
func (s *MessageStream) SendMessage(msg model.OutgoingMessage) bool {
	return s.Send(msg)
}

// NotificationStream: заявки в подписчики и уведомления групп.
type NotificationStream struct {
	*Handle
}

func OpenNotificationStream(ctx context.Context, opts Options, onEvent func(model.Event)) (*NotificationStream, error) {
	if opts.Name == "" {
		opts.Name = "notifications"
	}
	h, err := Open(ctx, opts, func(raw []byte) error {
		ev, err := model.DecodeEvent(raw)
		if err != nil {
			return err
		}
		onEvent(ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &NotificationStream{Handle: h}, nil
}
