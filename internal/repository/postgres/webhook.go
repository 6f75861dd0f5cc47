package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felipemaragno/hookline/internal/domain"
)

type WebhookRepository struct {
	pool *pgxpool.Pool
}

func NewWebhookRepository(pool *pgxpool.Pool) *WebhookRepository {
	return &WebhookRepository{pool: pool}
}

const webhookColumns = `
	id, tenant_id, api_key_id, url, secret, events, is_active,
	delivery_success_count, delivery_failure_count, last_delivery_at, last_error,
	created_at, updated_at`

func (r *WebhookRepository) Create(ctx context.Context, w *domain.Webhook) error {
	const query = `
		INSERT INTO webhooks (id, tenant_id, api_key_id, url, secret, events, is_active,
		                      delivery_success_count, delivery_failure_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0, $8, $9)
	`

	_, err := r.pool.Exec(ctx, query,
		w.ID,
		w.TenantID,
		w.APIKeyID,
		w.URL,
		w.Secret,
		eventsToStrings(w.Events),
		w.IsActive,
		w.CreatedAt,
		w.UpdatedAt,
	)
	return err
}

func (r *WebhookRepository) GetByID(ctx context.Context, id string) (*domain.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE id = $1`
	return scanWebhook(r.pool.QueryRow(ctx, query, id))
}

func (r *WebhookRepository) GetForTenant(ctx context.Context, id, tenantID string) (*domain.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE id = $1 AND tenant_id = $2`
	return scanWebhook(r.pool.QueryRow(ctx, query, id, tenantID))
}

func (r *WebhookRepository) List(ctx context.Context, tenantID string, active *bool) ([]*domain.Webhook, error) {
	query := `
		SELECT ` + webhookColumns + `
		FROM webhooks
		WHERE tenant_id = $1 AND ($2::boolean IS NULL OR is_active = $2)
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, tenantID, active)
	if err != nil {
		return nil, err
	}
	return collectWebhooks(rows)
}

func (r *WebhookRepository) ListForEvent(ctx context.Context, tenantID string, event domain.WebhookEvent) ([]*domain.Webhook, error) {
	query := `
		SELECT ` + webhookColumns + `
		FROM webhooks
		WHERE tenant_id = $1 AND is_active = TRUE AND $2 = ANY(events)
		ORDER BY created_at
	`

	rows, err := r.pool.Query(ctx, query, tenantID, string(event))
	if err != nil {
		return nil, err
	}
	return collectWebhooks(rows)
}

func (r *WebhookRepository) Update(ctx context.Context, w *domain.Webhook) error {
	const query = `
		UPDATE webhooks
		SET url = $3, events = $4, is_active = $5, updated_at = $6
		WHERE id = $1 AND tenant_id = $2
	`

	result, err := r.pool.Exec(ctx, query,
		w.ID,
		w.TenantID,
		w.URL,
		eventsToStrings(w.Events),
		w.IsActive,
		w.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *WebhookRepository) Delete(ctx context.Context, id, tenantID string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *WebhookRepository) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	const query = `
		UPDATE webhooks
		SET delivery_success_count = delivery_success_count + 1,
		    last_delivery_at = $2, last_error = NULL, updated_at = $2
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *WebhookRepository) RecordFailure(ctx context.Context, id, lastError string, at time.Time) error {
	const query = `
		UPDATE webhooks
		SET delivery_failure_count = delivery_failure_count + 1,
		    last_error = $2, updated_at = $3
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, lastError, at)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanWebhook(row pgx.Row) (*domain.Webhook, error) {
	var w domain.Webhook
	var events []string
	err := row.Scan(
		&w.ID,
		&w.TenantID,
		&w.APIKeyID,
		&w.URL,
		&w.Secret,
		&events,
		&w.IsActive,
		&w.DeliverySuccessCount,
		&w.DeliveryFailureCount,
		&w.LastDeliveryAt,
		&w.LastError,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	w.Events = stringsToEvents(events)
	return &w, nil
}

func collectWebhooks(rows pgx.Rows) ([]*domain.Webhook, error) {
	defer rows.Close()

	webhooks := []*domain.Webhook{}
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

func eventsToStrings(events []domain.WebhookEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = string(e)
	}
	return out
}

func stringsToEvents(names []string) []domain.WebhookEvent {
	out := make([]domain.WebhookEvent, len(names))
	for i, n := range names {
		out[i] = domain.WebhookEvent(n)
	}
	return out
}
