// Package notify delivers ticket notifications to an external channel. All
// sinks are fire-and-forget from the lifecycle's point of view.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/maintenance-service/internal/config"
	"github.com/spec-kit/maintenance-service/internal/persistence"
)

// Message is one encoded notification.
type Message struct {
	Key   string
	Type  string
	Value []byte
}

// Sink delivers messages.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg Message) error
	Close() error
}

// NewSink builds the sink selected by cfg.Notification.Sink.
func NewSink(cfg config.Config, redis *persistence.Redis, logger *zap.Logger) (Sink, error) {
	switch cfg.Notification.Sink {
	case config.SinkRedis:
		if !redis.Enabled() {
			return nil, fmt.Errorf("notification sink redis requires REDIS_ADDR")
		}
		return NewRedisSink(redis, cfg.Redis.NotificationChannel), nil
	case config.SinkKafka:
		return NewKafkaSink(cfg.Kafka)
	case config.SinkLog, "":
		return NewLogSink(logger), nil
	}
	return nil, fmt.Errorf("unknown notification sink %q", cfg.Notification.Sink)
}

type logSink struct {
	logger *zap.Logger
}

// NewLogSink writes notifications to the structured log.
func NewLogSink(logger *zap.Logger) Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &logSink{logger: logger.Named("notify")}
}

func (s *logSink) Name() string { return string(config.SinkLog) }

func (s *logSink) Send(_ context.Context, msg Message) error {
	s.logger.Info("notification",
		zap.String("type", msg.Type),
		zap.String("key", msg.Key),
		zap.ByteString("payload", msg.Value))
	return nil
}

func (s *logSink) Close() error { return nil }
