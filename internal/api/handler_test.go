package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/felipemaragno/hookline/internal/clock"
	"github.com/felipemaragno/hookline/internal/deliverylog"
	"github.com/felipemaragno/hookline/internal/domain"
	"github.com/felipemaragno/hookline/internal/observability"
	"github.com/felipemaragno/hookline/internal/queue"
	"github.com/felipemaragno/hookline/internal/registry"
	"github.com/felipemaragno/hookline/internal/repository/memory"
	"github.com/felipemaragno/hookline/internal/retry"
)

type testServer struct {
	router *chi.Mux
	store  *memory.Store
	queue  *queue.Memory
	clock  *clock.MockClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clk := clock.NewMockClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	store := memory.NewStore()
	store.PutAPIKey(domain.APIKey{ID: "key-a", TenantID: "tenant-a", Active: true})
	store.PutAPIKey(domain.APIKey{ID: "key-b", TenantID: "tenant-b", Active: true})
	q := queue.NewMemory(clk, time.Minute)

	reg := registry.New(store.Webhooks(), store.APIKeys(), clk, nil)
	log := deliverylog.New(store.Webhooks(), store.Deliveries(), q, retry.DefaultPolicy(), clk, nil)
	health := observability.NewHealthHandler(nil, q)
	health.SetReady(true)

	router := NewRouter(RouterConfig{
		Handler:       NewHandler(reg, log, nil),
		HealthHandler: health,
		Metrics:       observability.NewMetricsWith(prometheus.NewRegistry(), "test"),
	})
	return &testServer{router: router, store: store, queue: q, clock: clk}
}

func (s *testServer) do(t *testing.T, method, path, tenant string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if tenant != "" {
		req.Header.Set(HeaderTenantID, tenant)
		req.Header.Set(HeaderAPIKeyID, "key-"+tenant[len(tenant)-1:])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) createWebhook(t *testing.T, tenant string) map[string]any {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/webhooks", tenant, map[string]any{
		"url":    "https://example.com/hooks",
		"events": []string{"match.completed", "player.registered"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create webhook: status %d: %s", rec.Code, rec.Body.String())
	}
	var out map[string]any
	_ = json.NewDecoder(rec.Body).Decode(&out)
	return out
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp.Error
}

func TestCreateWebhook_ReturnsSecret(t *testing.T) {
	s := newTestServer(t)

	created := s.createWebhook(t, "tenant-a")

	secret, _ := created["secret"].(string)
	if len(secret) != len("whsec_")+64 {
		t.Errorf("secret = %q, want generated whsec_ secret", secret)
	}
	if created["isActive"] != true {
		t.Errorf("isActive = %v, want true", created["isActive"])
	}
}

func TestCreateWebhook_Validation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"http url", map[string]any{"url": "http://example.com", "events": []string{"match.completed"}}, http.StatusBadRequest},
		{"no events", map[string]any{"url": "https://example.com", "events": []string{}}, http.StatusBadRequest},
		{"unknown event", map[string]any{"url": "https://example.com", "events": []string{"match.cancelled"}}, http.StatusBadRequest},
		{"bad json", "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/webhooks", "tenant-a", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			if decodeError(t, rec) == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestWebhooks_RequireTenant(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/webhooks", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestListWebhooks_OmitsSecretAndIncludesStats(t *testing.T) {
	s := newTestServer(t)
	s.createWebhook(t, "tenant-a")
	s.createWebhook(t, "tenant-b")

	rec := s.do(t, http.MethodGet, "/webhooks?status=active", "tenant-a", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var list []map[string]any
	_ = json.NewDecoder(rec.Body).Decode(&list)
	if len(list) != 1 {
		t.Fatalf("webhooks = %d, want 1 for tenant-a", len(list))
	}
	if _, ok := list[0]["secret"]; ok {
		t.Error("secret must not be listed")
	}
	if list[0]["totalDeliveries"] != float64(0) || list[0]["successRate"] != float64(0) {
		t.Errorf("stats = %v/%v", list[0]["totalDeliveries"], list[0]["successRate"])
	}

	rec = s.do(t, http.MethodGet, "/webhooks?status=paused", "tenant-a", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad status filter: got %d, want 400", rec.Code)
	}
}

func TestGetWebhook_TenantScoped(t *testing.T) {
	s := newTestServer(t)
	created := s.createWebhook(t, "tenant-a")
	path := "/webhooks/" + created["id"].(string)

	if rec := s.do(t, http.MethodGet, path, "tenant-a", nil); rec.Code != http.StatusOK {
		t.Errorf("own webhook: status = %d, want 200", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, path, "tenant-b", nil); rec.Code != http.StatusNotFound {
		t.Errorf("other tenant: status = %d, want 404", rec.Code)
	}
}

func TestUpdateWebhook(t *testing.T) {
	s := newTestServer(t)
	created := s.createWebhook(t, "tenant-a")
	path := "/webhooks/" + created["id"].(string)

	rec := s.do(t, http.MethodPatch, path, "tenant-a", map[string]any{"status": "inactive", "events": []string{"player.eliminated"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var updated map[string]any
	_ = json.NewDecoder(rec.Body).Decode(&updated)
	if updated["isActive"] != false {
		t.Errorf("isActive = %v, want false", updated["isActive"])
	}

	if rec := s.do(t, http.MethodPatch, path, "tenant-a", map[string]any{"status": "disabled"}); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid status: got %d, want 400", rec.Code)
	}
	if rec := s.do(t, http.MethodPatch, "/webhooks/missing", "tenant-a", map[string]any{"status": "active"}); rec.Code != http.StatusNotFound {
		t.Errorf("missing webhook: got %d, want 404", rec.Code)
	}
}

func TestPauseResumeDelete(t *testing.T) {
	s := newTestServer(t)
	created := s.createWebhook(t, "tenant-a")
	path := "/webhooks/" + created["id"].(string)

	if rec := s.do(t, http.MethodPost, path+"/pause", "tenant-a", nil); rec.Code != http.StatusOK {
		t.Errorf("pause: status = %d", rec.Code)
	}
	w, _ := s.store.Webhooks().GetByID(context.Background(), created["id"].(string))
	if w.IsActive {
		t.Error("webhook should be paused")
	}

	if rec := s.do(t, http.MethodPost, path+"/resume", "tenant-a", nil); rec.Code != http.StatusOK {
		t.Errorf("resume: status = %d", rec.Code)
	}

	if rec := s.do(t, http.MethodDelete, path, "tenant-b", nil); rec.Code != http.StatusNotFound {
		t.Errorf("delete by other tenant: status = %d, want 404", rec.Code)
	}
	if rec := s.do(t, http.MethodDelete, path, "tenant-a", nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete: status = %d, want 204", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, path, "tenant-a", nil); rec.Code != http.StatusNotFound {
		t.Errorf("after delete: status = %d, want 404", rec.Code)
	}
}

func (s *testServer) seedDelivery(t *testing.T, webhookID, id string, delivered bool) {
	t.Helper()
	ctx := context.Background()
	now := s.clock.Now()
	d := &domain.WebhookDelivery{
		ID:            id,
		WebhookID:     webhookID,
		EventID:       "evt_1_aaaaaaaaaaaa",
		EventType:     domain.EventMatchCompleted,
		URL:           "https://example.com/hooks",
		Payload:       []byte(`{}`),
		Status:        domain.DeliveryStatusFailed,
		AttemptNumber: 4,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Deliveries().Create(ctx, d); err != nil {
		t.Fatalf("seed delivery: %v", err)
	}
	code := 500
	a := &domain.DeliveryAttempt{DeliveryID: id, AttemptNumber: 4, StatusCode: &code, CreatedAt: now}
	d.RecordAttempt(a, "sha256=00")
	if delivered {
		d.MarkAsDelivered(now)
	}
	if err := s.store.Deliveries().SaveAttempt(ctx, d, a); err != nil {
		t.Fatalf("seed attempt: %v", err)
	}
}

func TestDeliveries_ListGetRetry(t *testing.T) {
	s := newTestServer(t)
	created := s.createWebhook(t, "tenant-a")
	id := created["id"].(string)
	base := "/webhooks/" + id + "/deliveries"

	s.seedDelivery(t, id, "del-failed", false)
	s.seedDelivery(t, id, "del-done", true)

	rec := s.do(t, http.MethodGet, base+"?limit=10", "tenant-a", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
	var list []map[string]any
	_ = json.NewDecoder(rec.Body).Decode(&list)
	if len(list) != 2 {
		t.Errorf("deliveries = %d, want 2", len(list))
	}

	if rec := s.do(t, http.MethodGet, base+"?limit=abc", "tenant-a", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d, want 400", rec.Code)
	}

	rec = s.do(t, http.MethodGet, base+"/del-failed", "tenant-a", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}
	var detail map[string]any
	_ = json.NewDecoder(rec.Body).Decode(&detail)
	if attempts, _ := detail["attempts"].([]any); len(attempts) != 1 {
		t.Errorf("attempts = %v, want 1", detail["attempts"])
	}

	if rec := s.do(t, http.MethodPost, base+"/del-failed/retry", "tenant-a", nil); rec.Code != http.StatusAccepted {
		t.Errorf("retry: status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	job, _ := s.queue.Dequeue(context.Background())
	if job == nil || job.DeliveryID != "del-failed" || job.AttemptNumber() != 5 {
		t.Errorf("job = %+v, want retry continuing at attempt 5", job)
	}

	if rec := s.do(t, http.MethodPost, base+"/del-done/retry", "tenant-a", nil); rec.Code != http.StatusConflict {
		t.Errorf("retry delivered: status = %d, want 409", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, base+"/missing/retry", "tenant-a", nil); rec.Code != http.StatusNotFound {
		t.Errorf("retry missing: status = %d, want 404", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, base+"/del-failed/retry", "tenant-b", nil); rec.Code != http.StatusNotFound {
		t.Errorf("retry other tenant: status = %d, want 404", rec.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t)

	if rec := s.do(t, http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Errorf("health: status = %d", rec.Code)
	}

	rec := s.do(t, http.MethodGet, "/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ready: status = %d", rec.Code)
	}
	var resp observability.ReadyResponse
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Queue == nil {
		t.Error("ready response should include queue counts")
	}
}
