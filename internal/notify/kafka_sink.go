package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/spec-kit/maintenance-service/internal/config"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaSink struct {
	writer messageWriter
	topic  string
}

// NewKafkaSink writes messages to cfg.Topic keyed by ticket id, so events of
// one ticket stay ordered within a partition.
func NewKafkaSink(cfg config.KafkaConfig) (Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic must not be empty")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: false,
		WriteTimeout:           5 * time.Second,
	}
	return newKafkaSinkWithWriter(writer, cfg.Topic), nil
}

func newKafkaSinkWithWriter(w messageWriter, topic string) Sink {
	return &kafkaSink{writer: w, topic: topic}
}

func (s *kafkaSink) Name() string { return string(config.SinkKafka) }

func (s *kafkaSink) Send(ctx context.Context, msg Message) error {
	err := s.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(msg.Key),
		Value:   msg.Value,
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(msg.Type)}},
	})
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", s.topic, err)
	}
	return nil
}

func (s *kafkaSink) Close() error {
	return s.writer.Close()
}
