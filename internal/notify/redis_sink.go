package notify

import (
	"context"
	"fmt"

	"github.com/spec-kit/maintenance-service/internal/config"
)

// Publisher is the slice of the Redis wrapper the sink needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type redisSink struct {
	pub     Publisher
	channel string
}

// NewRedisSink publishes every message on a single pub/sub channel.
func NewRedisSink(pub Publisher, channel string) Sink {
	return &redisSink{pub: pub, channel: channel}
}

func (s *redisSink) Name() string { return string(config.SinkRedis) }

func (s *redisSink) Send(ctx context.Context, msg Message) error {
	if err := s.pub.Publish(ctx, s.channel, msg.Value); err != nil {
		return fmt.Errorf("redis publish %s: %w", s.channel, err)
	}
	return nil
}

func (s *redisSink) Close() error { return nil }
