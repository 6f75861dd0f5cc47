// Package kafka ingests tournament lifecycle messages and turns them into
// webhook events. Offsets are committed manually once every message up to
// them has been published or skipped, so delivery is at-least-once and the
// handler must tolerate redelivery.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/felipemaragno/hookline/internal/domain"
)

// DefaultTopic carries lifecycle messages keyed by entity id.
const DefaultTopic = "tournament.lifecycle"

// ConsumerConfig defines Kafka consumer parameters.
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	GroupID       string
	InstanceID    string
	BatchTimeout  time.Duration // Max time to collect messages before processing
	CommitTimeout time.Duration // Timeout for offset commits
	RetryBackoff  time.Duration // Wait before reprocessing failed messages
}

func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Topic:         DefaultTopic,
		GroupID:       "hookline",
		BatchTimeout:  100 * time.Millisecond,
		CommitTimeout: 5 * time.Second,
		RetryBackoff:  time.Second,
	}
}

// LifecycleMessage announces a state change of a tournament, match or player.
type LifecycleMessage struct {
	Event      domain.WebhookEvent `json:"event"`
	TenantID   string              `json:"tenantId"`
	EntityID   string              `json:"entityId"`
	OccurredAt time.Time           `json:"occurredAt"`
}

func NewLifecycleMessage(event domain.WebhookEvent, tenantID, entityID string, now time.Time) LifecycleMessage {
	return LifecycleMessage{
		Event:      event,
		TenantID:   tenantID,
		EntityID:   entityID,
		OccurredAt: now.UTC(),
	}
}

func (m LifecycleMessage) Validate() error {
	if !m.Event.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidEvent, m.Event)
	}
	if m.TenantID == "" || m.EntityID == "" {
		return errors.New("tenantId and entityId are required")
	}
	return nil
}

// MessageHandler processes a batch of lifecycle messages. Every message ends
// up in exactly one of the returned slices; only failed messages are
// reprocessed.
type MessageHandler interface {
	ProcessBatch(ctx context.Context, msgs []*LifecycleMessage) (published, skipped, failed []*LifecycleMessage)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
	Stats() kafka.ReaderStats
}

// Consumer reads lifecycle messages from Kafka and hands them to a MessageHandler.
type Consumer struct {
	config  ConsumerConfig
	reader  messageReader
	handler MessageHandler
	logger  *slog.Logger

	wg       sync.WaitGroup
	shutdown chan struct{}
	stopOnce sync.Once
}

// NewConsumer creates a consumer group member for config.Topic.
func NewConsumer(config ConsumerConfig, handler MessageHandler, logger *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        config.Brokers,
		Topic:          config.Topic,
		GroupID:        config.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        config.BatchTimeout,
		CommitInterval: 0, // Manual commits only
		StartOffset:    kafka.FirstOffset,
		GroupBalancers: []kafka.GroupBalancer{
			kafka.RangeGroupBalancer{},
			kafka.RoundRobinGroupBalancer{},
		},
		IsolationLevel: kafka.ReadCommitted,
	})
	return newConsumer(config, reader, handler, logger)
}

func newConsumer(config ConsumerConfig, reader messageReader, handler MessageHandler, logger *slog.Logger) *Consumer {
	defaults := DefaultConsumerConfig()
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = defaults.BatchTimeout
	}
	if config.CommitTimeout <= 0 {
		config.CommitTimeout = defaults.CommitTimeout
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = defaults.RetryBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		config:   config,
		reader:   reader,
		handler:  handler,
		logger:   logger,
		shutdown: make(chan struct{}),
	}
}

// Start begins consuming messages.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.consumeLoop(ctx)
	c.logger.Info("kafka consumer started",
		"topic", c.config.Topic,
		"group", c.config.GroupID,
		"instance", c.config.InstanceID,
		"batch_timeout", c.config.BatchTimeout,
	)
}

// Stop waits for the in-flight batch and closes the reader.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() { close(c.shutdown) })
	c.wg.Wait()
	if err := c.reader.Close(); err != nil {
		c.logger.Error("failed to close kafka reader", "error", err)
	}
	c.logger.Info("kafka consumer stopped")
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		default:
		}

		batch, msgs := c.collectBatch(ctx)
		if len(batch) > 0 {
			c.processBatchAndCommit(ctx, batch, msgs)
		}
	}
}

func (c *Consumer) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.shutdown:
		return true
	default:
		return false
	}
}

// collectBatch fetches messages until BatchTimeout elapses.
func (c *Consumer) collectBatch(ctx context.Context) ([]kafka.Message, []*LifecycleMessage) {
	var batch []kafka.Message
	var msgs []*LifecycleMessage

	deadline := time.Now().Add(c.config.BatchTimeout)

	for time.Now().Before(deadline) {
		if c.stopping(ctx) {
			return batch, msgs
		}

		// Short timeout for each fetch to stay responsive
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if remaining > 10*time.Millisecond {
			remaining = 10 * time.Millisecond
		}

		readCtx, cancel := context.WithTimeout(ctx, remaining)
		km, err := c.reader.FetchMessage(readCtx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				continue
			}
			c.logger.Error("failed to fetch message", "error", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		msg, err := decode(km)
		if err != nil {
			c.logger.Error("dropping malformed lifecycle message",
				"error", err,
				"partition", km.Partition,
				"offset", km.Offset,
			)
			// Commit so one bad message cannot block the partition
			if err := c.commitMessages(ctx, []kafka.Message{km}); err != nil {
				c.logger.Error("failed to commit malformed message", "error", err)
			}
			continue
		}

		batch = append(batch, km)
		msgs = append(msgs, msg)
	}

	return batch, msgs
}

func decode(km kafka.Message) (*LifecycleMessage, error) {
	var msg LifecycleMessage
	if err := json.Unmarshal(km.Value, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if msg.EntityID == "" && len(km.Key) > 0 {
		msg.EntityID = string(km.Key)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// processBatchAndCommit runs the handler until no message is left failed,
// then commits the batch. On shutdown with failures outstanding it commits
// only the messages that precede the first failure in each partition.
func (c *Consumer) processBatchAndCommit(ctx context.Context, batch []kafka.Message, msgs []*LifecycleMessage) {
	if len(msgs) == 0 {
		return
	}

	index := make(map[*LifecycleMessage]kafka.Message, len(msgs))
	for i, m := range msgs {
		index[m] = batch[i]
	}

	start := time.Now()
	pending := msgs
	for round := 1; ; round++ {
		published, skipped, failed := c.handler.ProcessBatch(ctx, pending)

		c.logger.Debug("batch processed",
			"round", round,
			"total", len(pending),
			"published", len(published),
			"skipped", len(skipped),
			"failed", len(failed),
			"duration_ms", time.Since(start).Milliseconds(),
		)

		if len(failed) == 0 {
			break
		}

		if c.stopping(ctx) || !c.wait(ctx) {
			failedMsgs := make([]kafka.Message, 0, len(failed))
			for _, m := range failed {
				failedMsgs = append(failedMsgs, index[m])
			}
			batch = committable(batch, failedMsgs)
			c.logger.Warn("shutting down with unprocessed lifecycle messages",
				"failed", len(failed),
				"committing", len(batch),
			)
			break
		}
		pending = failed
	}

	// At-least-once: commit after processing. A crash before this point
	// redelivers the batch.
	if err := c.commitMessages(ctx, batch); err != nil {
		c.logger.Error("failed to commit messages",
			"error", err,
			"count", len(batch),
		)
	}
}

func (c *Consumer) wait(ctx context.Context) bool {
	t := time.NewTimer(c.config.RetryBackoff)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.shutdown:
		return false
	}
}

// committable drops every message at or after the lowest failed offset of
// its partition.
func committable(batch, failed []kafka.Message) []kafka.Message {
	firstFailed := make(map[int]int64, len(failed))
	for _, m := range failed {
		if off, ok := firstFailed[m.Partition]; !ok || m.Offset < off {
			firstFailed[m.Partition] = m.Offset
		}
	}

	out := make([]kafka.Message, 0, len(batch))
	for _, m := range batch {
		if off, ok := firstFailed[m.Partition]; ok && m.Offset >= off {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (c *Consumer) commitMessages(ctx context.Context, msgs []kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	// The commit must go through even when ctx was cancelled for shutdown.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.CommitTimeout)
	defer cancel()

	return c.reader.CommitMessages(commitCtx, msgs...)
}

// Stats returns consumer statistics.
func (c *Consumer) Stats() kafka.ReaderStats {
	return c.reader.Stats()
}
