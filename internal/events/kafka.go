package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"quanttrade/internal/models"
)

// messageWriter - часть kafka.Writer, нужная публикатору
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher публикует события в Kafka.
// Ключ сообщения - ключ события, поэтому обновления одного ордера
// попадают в одну партицию и читаются по порядку.
type KafkaPublisher struct {
	topic  string
	writer messageWriter
	logger *zap.Logger
}

// NewKafkaPublisher создаёт публикатор
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
	}
	return newKafkaPublisher(topic, w, logger)
}

func newKafkaPublisher(topic string, w messageWriter, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{topic: topic, writer: w, logger: logger.Named("kafka")}
}

func (k *KafkaPublisher) Name() string { return "kafka" }

// Publish записывает событие в топик
func (k *KafkaPublisher) Publish(ctx context.Context, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Key),
		Value: data,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "timestamp", Value: []byte(event.Timestamp.Format(time.RFC3339Nano))},
		},
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write to %s: %w", k.topic, err)
	}

	k.logger.Debug("event published",
		zap.String("topic", k.topic),
		zap.String("event_type", string(event.Type)),
		zap.Int("size", len(data)),
	)
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}
