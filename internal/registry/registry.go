// Package registry manages tenant webhook subscriptions.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/felipemaragno/hookline/internal/clock"
	"github.com/felipemaragno/hookline/internal/domain"
	"github.com/felipemaragno/hookline/internal/repository"
	"github.com/felipemaragno/hookline/internal/signature"
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

type CreateInput struct {
	TenantID string
	APIKeyID string
	URL      string
	Events   []string
	// Secret is optional; one is generated when empty.
	Secret string
}

// UpdateInput carries the fields to change. Nil fields are left untouched.
type UpdateInput struct {
	URL    *string
	Events *[]string
	Status *string
}

// WebhookWithStats is the read view of a webhook: the signing secret is
// omitted and the derived delivery stats are included.
type WebhookWithStats struct {
	domain.Webhook
	domain.WebhookStats
}

func withStats(w *domain.Webhook) WebhookWithStats {
	return WebhookWithStats{
		Webhook:      w.Redacted(),
		WebhookStats: w.Stats(),
	}
}

type Registry struct {
	webhooks repository.WebhookRepository
	apiKeys  repository.APIKeyRepository
	clock    clock.Clock
	logger   *slog.Logger
}

func New(webhooks repository.WebhookRepository, apiKeys repository.APIKeyRepository, clk clock.Clock, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		webhooks: webhooks,
		apiKeys:  apiKeys,
		clock:    clk,
		logger:   logger,
	}
}

// Create validates and stores a new webhook. Nothing is written when
// validation fails. The returned webhook includes its secret.
func (r *Registry) Create(ctx context.Context, in CreateInput) (*domain.Webhook, error) {
	if err := domain.ValidateURL(in.URL); err != nil {
		return nil, err
	}
	events, err := domain.ParseEvents(in.Events)
	if err != nil {
		return nil, err
	}
	if err := r.checkAPIKey(ctx, in.APIKeyID, in.TenantID); err != nil {
		return nil, err
	}

	secret := in.Secret
	if secret == "" {
		secret, err = signature.GenerateSecret()
		if err != nil {
			return nil, err
		}
	}

	now := r.clock.Now()
	w := &domain.Webhook{
		ID:        uuid.NewString(),
		TenantID:  in.TenantID,
		APIKeyID:  in.APIKeyID,
		URL:       in.URL,
		Secret:    secret,
		Events:    events,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.webhooks.Create(ctx, w); err != nil {
		return nil, fmt.Errorf("create webhook: %w", err)
	}

	r.logger.Info("webhook created",
		"webhook_id", w.ID,
		"tenant_id", w.TenantID,
		"events", len(w.Events),
	)
	return w, nil
}

func (r *Registry) checkAPIKey(ctx context.Context, apiKeyID, tenantID string) error {
	if apiKeyID == "" {
		return domain.ErrAPIKeyNotFound
	}
	key, err := r.apiKeys.GetByID(ctx, apiKeyID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrAPIKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("load api key: %w", err)
	}
	if key.TenantID != tenantID || !key.Active {
		return domain.ErrAPIKeyNotFound
	}
	return nil
}

// List returns the tenant's webhooks newest first. status is "active",
// "inactive", or empty for all.
func (r *Registry) List(ctx context.Context, tenantID, status string) ([]WebhookWithStats, error) {
	var active *bool
	if status != "" {
		a, err := parseStatus(status)
		if err != nil {
			return nil, err
		}
		active = a
	}

	webhooks, err := r.webhooks.List(ctx, tenantID, active)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}

	out := make([]WebhookWithStats, 0, len(webhooks))
	for _, w := range webhooks {
		out = append(out, withStats(w))
	}
	return out, nil
}

func (r *Registry) Get(ctx context.Context, id, tenantID string) (*WebhookWithStats, error) {
	w, err := r.webhooks.GetForTenant(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	view := withStats(w)
	return &view, nil
}

func (r *Registry) Update(ctx context.Context, id, tenantID string, in UpdateInput) (*WebhookWithStats, error) {
	w, err := r.webhooks.GetForTenant(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}

	if in.URL != nil {
		if err := domain.ValidateURL(*in.URL); err != nil {
			return nil, err
		}
		w.URL = *in.URL
	}
	if in.Events != nil {
		events, err := domain.ParseEvents(*in.Events)
		if err != nil {
			return nil, err
		}
		w.Events = events
	}
	if in.Status != nil {
		active, err := parseStatus(*in.Status)
		if err != nil {
			return nil, err
		}
		w.IsActive = *active
	}

	w.UpdatedAt = r.clock.Now()
	if err := r.webhooks.Update(ctx, w); err != nil {
		return nil, err
	}

	r.logger.Info("webhook updated", "webhook_id", w.ID, "tenant_id", tenantID, "active", w.IsActive)
	view := withStats(w)
	return &view, nil
}

// Delete removes the webhook along with its delivery history.
func (r *Registry) Delete(ctx context.Context, id, tenantID string) error {
	if err := r.webhooks.Delete(ctx, id, tenantID); err != nil {
		return err
	}
	r.logger.Info("webhook deleted", "webhook_id", id, "tenant_id", tenantID)
	return nil
}

func (r *Registry) Pause(ctx context.Context, id, tenantID string) (*WebhookWithStats, error) {
	status := StatusInactive
	return r.Update(ctx, id, tenantID, UpdateInput{Status: &status})
}

func (r *Registry) Resume(ctx context.Context, id, tenantID string) (*WebhookWithStats, error) {
	status := StatusActive
	return r.Update(ctx, id, tenantID, UpdateInput{Status: &status})
}

// GetWebhooksForEvent returns the tenant's active webhooks subscribed to event.
func (r *Registry) GetWebhooksForEvent(ctx context.Context, tenantID string, event domain.WebhookEvent) ([]*domain.Webhook, error) {
	if !event.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidEvent, event)
	}
	return r.webhooks.ListForEvent(ctx, tenantID, event)
}

func parseStatus(status string) (*bool, error) {
	var active bool
	switch status {
	case StatusActive:
		active = true
	case StatusInactive:
		active = false
	default:
		return nil, domain.ErrInvalidStatus
	}
	return &active, nil
}
