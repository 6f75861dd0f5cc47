// Package repository declares the persistence contracts for webhooks,
// deliveries and API keys. Implementations map missing rows to
// domain.ErrNotFound.
package repository

import (
	"context"
	"time"

	"github.com/felipemaragno/hookline/internal/domain"
)

type WebhookRepository interface {
	Create(ctx context.Context, webhook *domain.Webhook) error
	// GetByID loads a webhook regardless of tenant. Used by the worker.
	GetByID(ctx context.Context, id string) (*domain.Webhook, error)
	GetForTenant(ctx context.Context, id, tenantID string) (*domain.Webhook, error)
	// List returns the tenant's webhooks newest first; active nil means all.
	List(ctx context.Context, tenantID string, active *bool) ([]*domain.Webhook, error)
	ListForEvent(ctx context.Context, tenantID string, event domain.WebhookEvent) ([]*domain.Webhook, error)
	Update(ctx context.Context, webhook *domain.Webhook) error
	Delete(ctx context.Context, id, tenantID string) error
	RecordSuccess(ctx context.Context, id string, at time.Time) error
	RecordFailure(ctx context.Context, id, lastError string, at time.Time) error
}

type DeliveryRepository interface {
	Create(ctx context.Context, delivery *domain.WebhookDelivery) error
	CreateBatch(ctx context.Context, deliveries []*domain.WebhookDelivery) error
	GetByID(ctx context.Context, id string) (*domain.WebhookDelivery, error)
	ListByWebhook(ctx context.Context, webhookID string, limit int) ([]*domain.WebhookDelivery, error)
	// SaveAttempt writes the attempt outcome onto the delivery row and appends
	// the attempt. It returns domain.ErrAlreadyDelivered when the row was
	// already delivered, in which case nothing is written.
	SaveAttempt(ctx context.Context, delivery *domain.WebhookDelivery, attempt *domain.DeliveryAttempt) error
	// SetStatus changes the status of an undelivered row.
	SetStatus(ctx context.Context, id string, status domain.DeliveryStatus, at time.Time) error
	ListAttempts(ctx context.Context, deliveryID string) ([]*domain.DeliveryAttempt, error)
	// ListOrphaned returns pending rows created before olderThan that were
	// never attempted.
	ListOrphaned(ctx context.Context, olderThan time.Time, limit int) ([]*domain.WebhookDelivery, error)
}

type APIKeyRepository interface {
	GetByID(ctx context.Context, id string) (*domain.APIKey, error)
}
