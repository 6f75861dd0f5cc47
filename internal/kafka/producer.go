package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer publishes lifecycle messages to Kafka.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// ProducerConfig configures the Kafka producer.
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	Async        bool
}

// DefaultProducerConfig returns sensible defaults for production.
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Brokers:      []string{"localhost:9092"},
		Topic:        DefaultTopic,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        false, // Sync for reliability
	}
}

// NewProducer creates a producer. Messages are partitioned by entity id so
// the lifecycle of one entity stays ordered.
func NewProducer(config ProducerConfig, logger *slog.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Topic:                  config.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              config.BatchSize,
		BatchTimeout:           config.BatchTimeout,
		RequiredAcks:           kafka.RequireAll, // Wait for all replicas
		Async:                  config.Async,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: true,
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		writer: writer,
		logger: logger,
	}
}

func encode(msg LifecycleMessage) (kafka.Message, error) {
	if err := msg.Validate(); err != nil {
		return kafka.Message{}, err
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal message: %w", err)
	}
	return kafka.Message{
		Key:   []byte(msg.EntityID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(msg.Event)},
		},
	}, nil
}

// Publish sends one lifecycle message.
func (p *Producer) Publish(ctx context.Context, msg LifecycleMessage) error {
	km, err := encode(msg)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	return nil
}

// PublishBatch sends several lifecycle messages in one write.
func (p *Producer) PublishBatch(ctx context.Context, msgs []LifecycleMessage) error {
	messages := make([]kafka.Message, len(msgs))
	for i, msg := range msgs {
		km, err := encode(msg)
		if err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		messages[i] = km
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("write messages: %w", err)
	}

	p.logger.Debug("lifecycle messages written", "count", len(messages))
	return nil
}

// Close flushes pending writes and closes the producer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
