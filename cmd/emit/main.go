// emit publishes tournament lifecycle messages to Kafka, either one from
// flags or a stream of JSON lines from a file or stdin.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felipemaragno/hookline/internal/config"
	"github.com/felipemaragno/hookline/internal/domain"
	"github.com/felipemaragno/hookline/internal/kafka"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	event := flag.String("event", "", "lifecycle event, e.g. match.completed")
	tenantID := flag.String("tenant", "", "tenant id")
	entityID := flag.String("entity", "", "tournament, match or player id")
	file := flag.String("file", "", "JSON lines file of messages ('-' for stdin)")
	batchSize := flag.Int("batch", 100, "messages per write when reading a file")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	producerConfig := kafka.DefaultProducerConfig()
	producerConfig.Brokers = cfg.Kafka.Brokers
	producerConfig.Topic = cfg.Kafka.Topic
	producer := kafka.NewProducer(producerConfig, logger)
	defer func() { _ = producer.Close() }()

	start := time.Now()
	var sent int

	if *file == "" {
		msg := kafka.NewLifecycleMessage(domain.WebhookEvent(*event), *tenantID, *entityID, time.Now())
		if err := producer.Publish(ctx, msg); err != nil {
			logger.Error("failed to publish", "error", err)
			os.Exit(1)
		}
		sent = 1
	} else {
		in := os.Stdin
		if *file != "-" {
			f, err := os.Open(*file)
			if err != nil {
				logger.Error("failed to open file", "error", err)
				os.Exit(1)
			}
			defer f.Close()
			in = f
		}
		sent, err = publishLines(ctx, producer, in, *batchSize)
		if err != nil {
			logger.Error("failed to publish", "error", err, "sent", sent)
			os.Exit(1)
		}
	}

	logger.Info("lifecycle messages published",
		"count", sent,
		"topic", producerConfig.Topic,
		"duration", time.Since(start),
	)
}

func publishLines(ctx context.Context, producer *kafka.Producer, r io.Reader, batchSize int) (int, error) {
	if batchSize < 1 {
		batchSize = 1
	}
	scanner := bufio.NewScanner(r)
	batch := make([]kafka.LifecycleMessage, 0, batchSize)
	sent, line := 0, 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := producer.PublishBatch(ctx, batch); err != nil {
			return err
		}
		sent += len(batch)
		batch = batch[:0]
		return nil
	}

	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var msg kafka.LifecycleMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			return sent, fmt.Errorf("line %d: %w", line, err)
		}
		if msg.OccurredAt.IsZero() {
			msg.OccurredAt = time.Now().UTC()
		}
		batch = append(batch, msg)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return sent, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return sent, err
	}
	return sent, flush()
}
