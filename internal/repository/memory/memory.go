// Package memory provides in-process repository implementations for tests
// and local development. Semantics follow the postgres implementations,
// including tenant scoping, cascade deletes and the delivered-at guard.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/felipemaragno/hookline/internal/domain"
)

// Store holds all tables behind one lock.
type Store struct {
	mu         sync.RWMutex
	webhooks   map[string]*domain.Webhook
	deliveries map[string]*domain.WebhookDelivery
	attempts   map[string][]*domain.DeliveryAttempt
	apiKeys    map[string]*domain.APIKey
	nextID     int64
}

func NewStore() *Store {
	return &Store{
		webhooks:   make(map[string]*domain.Webhook),
		deliveries: make(map[string]*domain.WebhookDelivery),
		attempts:   make(map[string][]*domain.DeliveryAttempt),
		apiKeys:    make(map[string]*domain.APIKey),
	}
}

func (s *Store) Webhooks() *WebhookRepository {
	return &WebhookRepository{s: s}
}

func (s *Store) Deliveries() *DeliveryRepository {
	return &DeliveryRepository{s: s}
}

func (s *Store) APIKeys() *APIKeyRepository {
	return &APIKeyRepository{s: s}
}

// PutAPIKey seeds an API key.
func (s *Store) PutAPIKey(key domain.APIKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key
	s.apiKeys[key.ID] = &k
}

type WebhookRepository struct {
	s *Store
}

func copyWebhook(w *domain.Webhook) *domain.Webhook {
	c := *w
	c.Events = append([]domain.WebhookEvent(nil), w.Events...)
	return &c
}

func (r *WebhookRepository) Create(_ context.Context, w *domain.Webhook) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := copyWebhook(w)
	c.DeliverySuccessCount = 0
	c.DeliveryFailureCount = 0
	r.s.webhooks[w.ID] = c
	return nil
}

func (r *WebhookRepository) GetByID(_ context.Context, id string) (*domain.Webhook, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	w, ok := r.s.webhooks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyWebhook(w), nil
}

func (r *WebhookRepository) GetForTenant(_ context.Context, id, tenantID string) (*domain.Webhook, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	w, ok := r.s.webhooks[id]
	if !ok || w.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	return copyWebhook(w), nil
}

func (r *WebhookRepository) List(_ context.Context, tenantID string, active *bool) ([]*domain.Webhook, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []*domain.Webhook{}
	for _, w := range r.s.webhooks {
		if w.TenantID != tenantID {
			continue
		}
		if active != nil && w.IsActive != *active {
			continue
		}
		out = append(out, copyWebhook(w))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *WebhookRepository) ListForEvent(_ context.Context, tenantID string, event domain.WebhookEvent) ([]*domain.Webhook, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []*domain.Webhook{}
	for _, w := range r.s.webhooks {
		if w.TenantID == tenantID && w.IsActive && w.MatchesEvent(event) {
			out = append(out, copyWebhook(w))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *WebhookRepository) Update(_ context.Context, w *domain.Webhook) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.webhooks[w.ID]
	if !ok || cur.TenantID != w.TenantID {
		return domain.ErrNotFound
	}
	cur.URL = w.URL
	cur.Events = append([]domain.WebhookEvent(nil), w.Events...)
	cur.IsActive = w.IsActive
	cur.UpdatedAt = w.UpdatedAt
	return nil
}

func (r *WebhookRepository) Delete(_ context.Context, id, tenantID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.webhooks[id]
	if !ok || w.TenantID != tenantID {
		return domain.ErrNotFound
	}
	delete(r.s.webhooks, id)
	for did, d := range r.s.deliveries {
		if d.WebhookID == id {
			delete(r.s.deliveries, did)
			delete(r.s.attempts, did)
		}
	}
	return nil
}

func (r *WebhookRepository) RecordSuccess(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.webhooks[id]
	if !ok {
		return domain.ErrNotFound
	}
	w.DeliverySuccessCount++
	w.LastDeliveryAt = &at
	w.LastError = nil
	w.UpdatedAt = at
	return nil
}

func (r *WebhookRepository) RecordFailure(_ context.Context, id, lastError string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.webhooks[id]
	if !ok {
		return domain.ErrNotFound
	}
	w.DeliveryFailureCount++
	w.LastError = &lastError
	w.UpdatedAt = at
	return nil
}

type DeliveryRepository struct {
	s *Store
}

func copyDelivery(d *domain.WebhookDelivery) *domain.WebhookDelivery {
	c := *d
	c.Payload = append([]byte(nil), d.Payload...)
	return &c
}

func (r *DeliveryRepository) Create(ctx context.Context, d *domain.WebhookDelivery) error {
	return r.CreateBatch(ctx, []*domain.WebhookDelivery{d})
}

func (r *DeliveryRepository) CreateBatch(_ context.Context, deliveries []*domain.WebhookDelivery) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range deliveries {
		if _, ok := r.s.webhooks[d.WebhookID]; !ok {
			return domain.ErrNotFound
		}
	}
	for _, d := range deliveries {
		r.s.deliveries[d.ID] = copyDelivery(d)
	}
	return nil
}

func (r *DeliveryRepository) GetByID(_ context.Context, id string) (*domain.WebhookDelivery, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	d, ok := r.s.deliveries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyDelivery(d), nil
}

func (r *DeliveryRepository) ListByWebhook(_ context.Context, webhookID string, limit int) ([]*domain.WebhookDelivery, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []*domain.WebhookDelivery{}
	for _, d := range r.s.deliveries {
		if d.WebhookID == webhookID {
			out = append(out, copyDelivery(d))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *DeliveryRepository) SaveAttempt(_ context.Context, d *domain.WebhookDelivery, a *domain.DeliveryAttempt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.deliveries[d.ID]
	if !ok || cur.DeliveredAt != nil {
		return domain.ErrAlreadyDelivered
	}
	r.s.deliveries[d.ID] = copyDelivery(d)
	r.s.nextID++
	a.ID = r.s.nextID
	attempt := *a
	r.s.attempts[d.ID] = append(r.s.attempts[d.ID], &attempt)
	return nil
}

func (r *DeliveryRepository) SetStatus(_ context.Context, id string, status domain.DeliveryStatus, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.deliveries[id]
	if !ok || d.DeliveredAt != nil {
		return domain.ErrAlreadyDelivered
	}
	d.Status = status
	d.UpdatedAt = at
	return nil
}

func (r *DeliveryRepository) ListAttempts(_ context.Context, deliveryID string) ([]*domain.DeliveryAttempt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []*domain.DeliveryAttempt{}
	for _, a := range r.s.attempts[deliveryID] {
		c := *a
		out = append(out, &c)
	}
	return out, nil
}

func (r *DeliveryRepository) ListOrphaned(_ context.Context, olderThan time.Time, limit int) ([]*domain.WebhookDelivery, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []*domain.WebhookDelivery{}
	for _, d := range r.s.deliveries {
		if d.Status == domain.DeliveryStatusPending && d.LastAttemptAt == nil && d.CreatedAt.Before(olderThan) {
			out = append(out, copyDelivery(d))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type APIKeyRepository struct {
	s *Store
}

func (r *APIKeyRepository) GetByID(_ context.Context, id string) (*domain.APIKey, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	k, ok := r.s.apiKeys[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *k
	return &c, nil
}
