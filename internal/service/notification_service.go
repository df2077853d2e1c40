package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/maintenance-service/internal/events"
	"github.com/spec-kit/maintenance-service/internal/notify"
)

// NotificationQueue accepts messages for asynchronous delivery. Enqueue must
// not block; it reports false when the message was dropped.
type NotificationQueue interface {
	Enqueue(msg notify.Message) bool
}

// NotificationService forwards ticket events to the notification queue.
type NotificationService struct {
	dispatcher events.Dispatcher
	queue      NotificationQueue
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, queue NotificationQueue, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		queue:      queue,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to every ticket event.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil || n.queue == nil {
		return
	}
	for _, eventType := range events.AllTicketEvents {
		n.dispatcher.Subscribe(eventType, n.handle)
	}
}

func (n *NotificationService) handle(_ context.Context, event events.Event) error {
	msg, err := EncodeNotification(event)
	if err != nil {
		return err
	}
	if !n.queue.Enqueue(msg) {
		n.logger.Warn("notification dropped",
			zap.String("ticket_id", event.TicketID),
			zap.String("event_type", string(event.Type)))
	}
	return nil
}

// EncodeNotification renders an event as a sink message keyed by ticket.
func EncodeNotification(event events.Event) (notify.Message, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return notify.Message{}, fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	return notify.Message{Key: event.TicketID, Type: string(event.Type), Value: raw}, nil
}
