// Package deliverylog serves the delivery audit trail of a webhook and
// manual re-delivery.
package deliverylog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/felipemaragno/hookline/internal/clock"
	"github.com/felipemaragno/hookline/internal/domain"
	"github.com/felipemaragno/hookline/internal/queue"
	"github.com/felipemaragno/hookline/internal/repository"
	"github.com/felipemaragno/hookline/internal/retry"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// DeliveryDetail is a delivery row with its attempt history, oldest first.
type DeliveryDetail struct {
	*domain.WebhookDelivery
	Attempts []*domain.DeliveryAttempt `json:"attempts"`
}

type Log struct {
	webhooks   repository.WebhookRepository
	deliveries repository.DeliveryRepository
	queue      queue.Queue
	policy     retry.Policy
	clock      clock.Clock
	logger     *slog.Logger
}

func New(
	webhooks repository.WebhookRepository,
	deliveries repository.DeliveryRepository,
	q queue.Queue,
	policy retry.Policy,
	clk clock.Clock,
	logger *slog.Logger,
) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		webhooks:   webhooks,
		deliveries: deliveries,
		queue:      q,
		policy:     policy,
		clock:      clk,
		logger:     logger,
	}
}

// ClampLimit applies the default and maximum page size.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// List returns the webhook's deliveries newest first.
func (l *Log) List(ctx context.Context, webhookID, tenantID string, limit int) ([]*domain.WebhookDelivery, error) {
	if _, err := l.webhooks.GetForTenant(ctx, webhookID, tenantID); err != nil {
		return nil, err
	}
	return l.deliveries.ListByWebhook(ctx, webhookID, ClampLimit(limit))
}

func (l *Log) Get(ctx context.Context, deliveryID, webhookID, tenantID string) (*DeliveryDetail, error) {
	d, err := l.load(ctx, deliveryID, webhookID, tenantID)
	if err != nil {
		return nil, err
	}
	attempts, err := l.deliveries.ListAttempts(ctx, d.ID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return &DeliveryDetail{WebhookDelivery: d, Attempts: attempts}, nil
}

// Retry re-enqueues an undelivered delivery with a fresh attempt budget.
// The stored payload is resent as is and attempt numbering continues after
// the last recorded attempt.
func (l *Log) Retry(ctx context.Context, deliveryID, webhookID, tenantID string) (*domain.WebhookDelivery, error) {
	d, err := l.load(ctx, deliveryID, webhookID, tenantID)
	if err != nil {
		return nil, err
	}
	if d.IsDelivered() {
		return nil, domain.ErrAlreadyDelivered
	}

	now := l.clock.Now()
	if err := l.deliveries.SetStatus(ctx, d.ID, domain.DeliveryStatusRetrying, now); err != nil {
		return nil, err
	}
	d.MarkAsRetrying(now)

	job := queue.NewJob(d.ID, d.WebhookID, l.policy.MaxAttempts, d.AttemptsMade(), now)
	added, err := l.queue.Enqueue(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("enqueue retry: %w", err)
	}

	l.logger.Info("manual retry requested",
		"delivery_id", d.ID,
		"webhook_id", d.WebhookID,
		"tenant_id", tenantID,
		"already_queued", !added,
	)
	return d, nil
}

// load returns the delivery when it belongs to webhookID and the webhook
// belongs to tenantID.
func (l *Log) load(ctx context.Context, deliveryID, webhookID, tenantID string) (*domain.WebhookDelivery, error) {
	if _, err := l.webhooks.GetForTenant(ctx, webhookID, tenantID); err != nil {
		return nil, err
	}
	d, err := l.deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if d.WebhookID != webhookID {
		return nil, domain.ErrNotFound
	}
	return d, nil
}

// IsConflict reports whether err means the delivery can no longer change.
func IsConflict(err error) bool {
	return errors.Is(err, domain.ErrAlreadyDelivered)
}
