// Package worker hosts the background loops of the service: notification
// delivery, the SLA breach sweep and settings reload.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/maintenance-service/internal/notify"
	"github.com/spec-kit/maintenance-service/internal/observability"
)

const defaultQueueSize = 256

// NotificationWorker delivers queued messages to a sink. The queue is
// bounded; when it is full new messages are dropped rather than blocking
// the operation that produced them.
type NotificationWorker struct {
	sink    notify.Sink
	queue   chan notify.Message
	metrics *observability.Metrics
	logger  *zap.Logger
	timeout time.Duration
}

// NewNotificationWorker creates a worker with a queue of size entries.
func NewNotificationWorker(sink notify.Sink, size int, metrics *observability.Metrics, logger *zap.Logger) *NotificationWorker {
	if size <= 0 {
		size = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationWorker{
		sink:    sink,
		queue:   make(chan notify.Message, size),
		metrics: metrics,
		logger:  logger.Named("notifications"),
		timeout: 5 * time.Second,
	}
}

// Enqueue never blocks. It reports false when the message was dropped.
func (w *NotificationWorker) Enqueue(msg notify.Message) bool {
	select {
	case w.queue <- msg:
		return true
	default:
		w.metrics.RecordNotificationDropped()
		return false
	}
}

// Run delivers messages until ctx is cancelled, then drains what is
// already queued.
func (w *NotificationWorker) Run(ctx context.Context) {
	w.logger.Info("notification worker started", zap.String("sink", w.sink.Name()))
	for {
		select {
		case msg := <-w.queue:
			w.deliver(ctx, msg)
		case <-ctx.Done():
			w.drain()
			w.logger.Info("notification worker stopped")
			return
		}
	}
}

func (w *NotificationWorker) drain() {
	for {
		select {
		case msg := <-w.queue:
			w.deliver(context.Background(), msg)
		default:
			return
		}
	}
}

func (w *NotificationWorker) deliver(ctx context.Context, msg notify.Message) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()
	if err := w.sink.Send(sendCtx, msg); err != nil {
		w.metrics.RecordNotificationFailure(w.sink.Name())
		w.logger.Warn("notification delivery failed",
			zap.String("ticket_id", msg.Key),
			zap.String("event_type", msg.Type),
			zap.Error(err))
	}
}
