// Package publisher turns domain events into delivery rows and queue jobs,
// one per subscribed webhook.
package publisher

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/felipemaragno/hookline/internal/clock"
	"github.com/felipemaragno/hookline/internal/domain"
	"github.com/felipemaragno/hookline/internal/observability"
	"github.com/felipemaragno/hookline/internal/queue"
	"github.com/felipemaragno/hookline/internal/repository"
	"github.com/felipemaragno/hookline/internal/retry"
	"github.com/felipemaragno/hookline/internal/tournament"
)

// WebhookResolver finds the active webhooks subscribed to an event.
type WebhookResolver interface {
	GetWebhooksForEvent(ctx context.Context, tenantID string, event domain.WebhookEvent) ([]*domain.Webhook, error)
}

type Publisher struct {
	webhooks   WebhookResolver
	deliveries repository.DeliveryRepository
	queue      queue.Queue
	entities   tournament.Reader
	validator  *Validator
	policy     retry.Policy
	clock      clock.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics
}

func New(
	webhooks WebhookResolver,
	deliveries repository.DeliveryRepository,
	q queue.Queue,
	entities tournament.Reader,
	policy retry.Policy,
	clk clock.Clock,
	logger *slog.Logger,
) (*Publisher, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		webhooks:   webhooks,
		deliveries: deliveries,
		queue:      q,
		entities:   entities,
		validator:  validator,
		policy:     policy,
		clock:      clk,
		logger:     logger,
	}, nil
}

func (p *Publisher) WithMetrics(m *observability.Metrics) *Publisher {
	p.metrics = m
	return p
}

// NewEventID returns an id of the form evt_<unixMillis>_<12 hex chars>.
func NewEventID(now time.Time) (string, error) {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate event id: %w", err)
	}
	return fmt.Sprintf("evt_%d_%s", now.UnixMilli(), hex.EncodeToString(b[:])), nil
}

// PublishEvent validates data, builds the envelope once and writes one
// delivery row per subscribed webhook before enqueueing its job. It returns
// the number of rows written. A row whose job could not be enqueued stays
// pending and is picked up by the reconciliation sweep.
func (p *Publisher) PublishEvent(ctx context.Context, event domain.WebhookEvent, data any, tenantID string) (int, error) {
	if !event.Valid() {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidEvent, event)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if err := p.validator.Validate(event, raw); err != nil {
		return 0, err
	}

	now := p.clock.Now()
	eventID, err := NewEventID(now)
	if err != nil {
		return 0, err
	}

	body, err := json.Marshal(domain.NewPayload(eventID, event, tenantID, raw, now))
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	webhooks, err := p.webhooks.GetWebhooksForEvent(ctx, tenantID, event)
	if err != nil {
		return 0, fmt.Errorf("resolve webhooks: %w", err)
	}

	logger := p.logger.With("event_id", eventID, "event", event, "tenant_id", tenantID)
	if p.metrics != nil {
		p.metrics.EventsPublished.WithLabelValues(event.String()).Inc()
	}

	if len(webhooks) == 0 {
		logger.Debug("no webhooks subscribed to event")
		return 0, nil
	}

	rows := make([]*domain.WebhookDelivery, 0, len(webhooks))
	for _, w := range webhooks {
		rows = append(rows, &domain.WebhookDelivery{
			ID:            uuid.NewString(),
			WebhookID:     w.ID,
			EventID:       eventID,
			EventType:     event,
			URL:           w.URL,
			Payload:       body,
			Status:        domain.DeliveryStatusPending,
			AttemptNumber: 1,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	if err := p.deliveries.CreateBatch(ctx, rows); err != nil {
		return 0, fmt.Errorf("create deliveries: %w", err)
	}
	if p.metrics != nil {
		p.metrics.DeliveriesCreated.Add(float64(len(rows)))
	}

	for _, d := range rows {
		job := queue.NewJob(d.ID, d.WebhookID, p.policy.MaxAttempts, 0, now)
		if _, err := p.queue.Enqueue(ctx, job); err != nil {
			if p.metrics != nil {
				p.metrics.EnqueueFailures.Inc()
			}
			logger.Error("failed to enqueue delivery",
				"delivery_id", d.ID,
				"webhook_id", d.WebhookID,
				"error", err,
			)
		}
	}

	logger.Info("event published", "deliveries", len(rows))
	return len(rows), nil
}
