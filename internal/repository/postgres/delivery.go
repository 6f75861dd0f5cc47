package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felipemaragno/hookline/internal/domain"
)

type DeliveryRepository struct {
	pool *pgxpool.Pool
}

func NewDeliveryRepository(pool *pgxpool.Pool) *DeliveryRepository {
	return &DeliveryRepository{pool: pool}
}

const deliveryColumns = `
	id, webhook_id, event_id, event_type, url, payload, signature, status,
	attempt_number, status_code, response_body, error_message,
	delivered_at, last_attempt_at, created_at, updated_at`

const insertDelivery = `
	INSERT INTO webhook_deliveries (id, webhook_id, event_id, event_type, url, payload,
	                                signature, status, attempt_number, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

func insertArgs(d *domain.WebhookDelivery) []any {
	return []any{
		d.ID,
		d.WebhookID,
		d.EventID,
		string(d.EventType),
		d.URL,
		[]byte(d.Payload),
		d.Signature,
		string(d.Status),
		d.AttemptNumber,
		d.CreatedAt,
		d.UpdatedAt,
	}
}

func (r *DeliveryRepository) Create(ctx context.Context, d *domain.WebhookDelivery) error {
	_, err := r.pool.Exec(ctx, insertDelivery, insertArgs(d)...)
	return err
}

// CreateBatch inserts all deliveries in one round trip and one transaction.
func (r *DeliveryRepository) CreateBatch(ctx context.Context, deliveries []*domain.WebhookDelivery) error {
	if len(deliveries) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, d := range deliveries {
		batch.Queue(insertDelivery, insertArgs(d)...)
	}

	br := tx.SendBatch(ctx, batch)
	for _, d := range deliveries {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert delivery %s: %w", d.ID, err)
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *DeliveryRepository) GetByID(ctx context.Context, id string) (*domain.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE id = $1`
	return scanDelivery(r.pool.QueryRow(ctx, query, id))
}

func (r *DeliveryRepository) ListByWebhook(ctx context.Context, webhookID string, limit int) ([]*domain.WebhookDelivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM webhook_deliveries
		WHERE webhook_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, webhookID, limit)
	if err != nil {
		return nil, err
	}
	return collectDeliveries(rows)
}

func (r *DeliveryRepository) ListOrphaned(ctx context.Context, olderThan time.Time, limit int) ([]*domain.WebhookDelivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM webhook_deliveries
		WHERE status = 'pending' AND last_attempt_at IS NULL AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, err
	}
	return collectDeliveries(rows)
}

func (r *DeliveryRepository) SaveAttempt(ctx context.Context, d *domain.WebhookDelivery, a *domain.DeliveryAttempt) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const update = `
		UPDATE webhook_deliveries
		SET status = $2, attempt_number = $3, signature = $4, status_code = $5,
		    response_body = $6, error_message = $7, delivered_at = $8,
		    last_attempt_at = $9, updated_at = $10
		WHERE id = $1 AND delivered_at IS NULL
	`

	result, err := tx.Exec(ctx, update,
		d.ID,
		string(d.Status),
		d.AttemptNumber,
		d.Signature,
		d.StatusCode,
		d.ResponseBody,
		d.ErrorMessage,
		d.DeliveredAt,
		d.LastAttemptAt,
		d.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAlreadyDelivered
	}

	const insert = `
		INSERT INTO delivery_attempts (delivery_id, attempt_number, status_code, response_body, error_message, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err = tx.QueryRow(ctx, insert,
		a.DeliveryID,
		a.AttemptNumber,
		a.StatusCode,
		a.ResponseBody,
		a.ErrorMessage,
		a.DurationMs,
		a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *DeliveryRepository) SetStatus(ctx context.Context, id string, status domain.DeliveryStatus, at time.Time) error {
	const query = `
		UPDATE webhook_deliveries
		SET status = $2, updated_at = $3
		WHERE id = $1 AND delivered_at IS NULL
	`

	result, err := r.pool.Exec(ctx, query, id, string(status), at)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAlreadyDelivered
	}
	return nil
}

func (r *DeliveryRepository) ListAttempts(ctx context.Context, deliveryID string) ([]*domain.DeliveryAttempt, error) {
	const query = `
		SELECT id, delivery_id, attempt_number, status_code, response_body, error_message, duration_ms, created_at
		FROM delivery_attempts
		WHERE delivery_id = $1
		ORDER BY attempt_number, id
	`

	rows, err := r.pool.Query(ctx, query, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := []*domain.DeliveryAttempt{}
	for rows.Next() {
		var a domain.DeliveryAttempt
		err := rows.Scan(
			&a.ID,
			&a.DeliveryID,
			&a.AttemptNumber,
			&a.StatusCode,
			&a.ResponseBody,
			&a.ErrorMessage,
			&a.DurationMs,
			&a.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}

func scanDelivery(row pgx.Row) (*domain.WebhookDelivery, error) {
	var d domain.WebhookDelivery
	var eventType, status string
	var payload []byte
	err := row.Scan(
		&d.ID,
		&d.WebhookID,
		&d.EventID,
		&eventType,
		&d.URL,
		&payload,
		&d.Signature,
		&status,
		&d.AttemptNumber,
		&d.StatusCode,
		&d.ResponseBody,
		&d.ErrorMessage,
		&d.DeliveredAt,
		&d.LastAttemptAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.EventType = domain.WebhookEvent(eventType)
	d.Status = domain.DeliveryStatus(status)
	d.Payload = payload
	return &d, nil
}

func collectDeliveries(rows pgx.Rows) ([]*domain.WebhookDelivery, error) {
	defer rows.Close()

	deliveries := []*domain.WebhookDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}
