package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/felipemaragno/hookline/internal/clock"
	"github.com/felipemaragno/hookline/internal/domain"
	"github.com/felipemaragno/hookline/internal/observability"
	"github.com/felipemaragno/hookline/internal/queue"
	"github.com/felipemaragno/hookline/internal/repository/memory"
	"github.com/felipemaragno/hookline/internal/resilience"
	"github.com/felipemaragno/hookline/internal/retry"
	"github.com/felipemaragno/hookline/internal/signature"
)

const testSecret = "whsec_test"

var testPayload = []byte(`{"id":"evt_1717243200000_abcdef012345","event":"match.completed","timestamp":"2024-06-01T12:00:00.000Z","tenantId":"tenant-a","data":{}}`)

type harness struct {
	pool    *Pool
	store   *memory.Store
	queue   *queue.Memory
	clock   *clock.MockClock
	metrics *observability.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewMockClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	store := memory.NewStore()
	q := queue.NewMemory(clk, time.Minute)
	metrics := observability.NewMetricsWith(prometheus.NewRegistry(), "test")

	policy := retry.DefaultPolicy()
	policy.Jitter = 0

	pool := NewPool(Config{Workers: 1}, q, store.Deliveries(), store.Webhooks(), http.DefaultClient, clk, policy, nil).
		WithMetrics(metrics)
	return &harness{pool: pool, store: store, queue: q, clock: clk, metrics: metrics}
}

// seed stores an active webhook and one pending delivery for url and
// enqueues its job.
func (h *harness) seed(t *testing.T, url string, maxAttempts int) {
	t.Helper()
	ctx := context.Background()
	now := h.clock.Now()

	err := h.store.Webhooks().Create(ctx, &domain.Webhook{
		ID:        "wh-1",
		TenantID:  "tenant-a",
		APIKeyID:  "key-a",
		URL:       url,
		Secret:    testSecret,
		Events:    []domain.WebhookEvent{domain.EventMatchCompleted},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed webhook: %v", err)
	}
	err = h.store.Deliveries().Create(ctx, &domain.WebhookDelivery{
		ID:            "del-1",
		WebhookID:     "wh-1",
		EventID:       "evt_1717243200000_abcdef012345",
		EventType:     domain.EventMatchCompleted,
		URL:           url,
		Payload:       testPayload,
		Status:        domain.DeliveryStatusPending,
		AttemptNumber: 1,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		t.Fatalf("seed delivery: %v", err)
	}
	if _, err := h.queue.Enqueue(ctx, queue.NewJob("del-1", "wh-1", maxAttempts, 0, now)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

// runNext dequeues and processes one job; it fails the test if none is ready.
func (h *harness) runNext(t *testing.T) *queue.Job {
	t.Helper()
	job, err := h.queue.Dequeue(context.Background())
	if err != nil || job == nil {
		t.Fatalf("Dequeue = %v, %v; want a ready job", job, err)
	}
	h.pool.process(context.Background(), job)
	return job
}

func (h *harness) delivery(t *testing.T) *domain.WebhookDelivery {
	t.Helper()
	d, err := h.store.Deliveries().GetByID(context.Background(), "del-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	return d
}

func (h *harness) webhook(t *testing.T) *domain.Webhook {
	t.Helper()
	w, err := h.store.Webhooks().GetByID(context.Background(), "wh-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	return w
}

func (h *harness) counts(t *testing.T) queue.Counts {
	t.Helper()
	c, err := h.queue.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	return c
}

func TestWorker_DeliverSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != string(testPayload) {
			t.Errorf("body = %s, want stored payload bytes", body)
		}
		if !signature.Verify(body, testSecret, r.Header.Get(signature.HeaderSignature)) {
			t.Error("signature does not verify")
		}
		if r.Header.Get(signature.HeaderEvent) != "match.completed" {
			t.Errorf("event header = %q", r.Header.Get(signature.HeaderEvent))
		}
		if r.Header.Get(signature.HeaderDelivery) != "del-1" {
			t.Errorf("delivery header = %q", r.Header.Get(signature.HeaderDelivery))
		}
		if r.Header.Get(signature.HeaderEventID) != "evt_1717243200000_abcdef012345" {
			t.Errorf("event id header = %q", r.Header.Get(signature.HeaderEventID))
		}
		if r.Header.Get("User-Agent") != signature.UserAgent {
			t.Errorf("user agent = %q", r.Header.Get("User-Agent"))
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	h := newHarness(t)
	h.seed(t, server.URL, 4)
	h.runNext(t)

	d := h.delivery(t)
	if d.Status != domain.DeliveryStatusDelivered || d.DeliveredAt == nil {
		t.Errorf("delivery = %+v, want delivered", d)
	}
	if d.StatusCode == nil || *d.StatusCode != 200 || d.ResponseBody == nil || *d.ResponseBody != "ok" {
		t.Errorf("status/body = %v/%v", d.StatusCode, d.ResponseBody)
	}
	if d.Signature != signature.Sign(testPayload, testSecret) {
		t.Errorf("signature = %q", d.Signature)
	}

	w := h.webhook(t)
	if w.DeliverySuccessCount != 1 || w.DeliveryFailureCount != 0 || w.LastDeliveryAt == nil {
		t.Errorf("webhook counters = %+v", w)
	}
	if c := h.counts(t); c.Completed != 1 || c.Active != 0 {
		t.Errorf("counts = %+v, want one completed", c)
	}
	if got := testutil.ToFloat64(h.metrics.DeliveriesDelivered); got != 1 {
		t.Errorf("delivered metric = %v, want 1", got)
	}
}

func TestWorker_ServerError_SchedulesRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	h := newHarness(t)
	h.seed(t, server.URL, 4)
	h.runNext(t)

	d := h.delivery(t)
	if d.Status != domain.DeliveryStatusRetrying {
		t.Errorf("status = %s, want retrying", d.Status)
	}
	if d.ErrorMessage == nil || *d.ErrorMessage != "HTTP 503" {
		t.Errorf("error = %v, want HTTP 503", d.ErrorMessage)
	}
	if c := h.counts(t); c.Delayed != 1 {
		t.Errorf("counts = %+v, want one delayed job", c)
	}

	w := h.webhook(t)
	if w.DeliverySuccessCount != 0 || w.DeliveryFailureCount != 0 {
		t.Errorf("counters changed on a retryable failure: %+v", w)
	}

	if job, _ := h.queue.Dequeue(context.Background()); job != nil {
		t.Error("job should not be ready before the backoff elapses")
	}
}

func TestWorker_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	h := newHarness(t)
	h.seed(t, server.URL, 4)

	h.runNext(t)
	h.clock.Advance(5 * time.Second)
	h.runNext(t)
	h.clock.Advance(10 * time.Second)
	job := h.runNext(t)

	if job.AttemptNumber() != 3 {
		t.Errorf("attempt number = %d, want 3", job.AttemptNumber())
	}

	d := h.delivery(t)
	if d.Status != domain.DeliveryStatusDelivered || d.AttemptNumber != 3 {
		t.Errorf("delivery = %+v, want delivered on attempt 3", d)
	}
	if d.ErrorMessage != nil {
		t.Errorf("error message = %q, want cleared", *d.ErrorMessage)
	}

	attempts, _ := h.store.Deliveries().ListAttempts(context.Background(), "del-1")
	if len(attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(attempts))
	}
	for i, a := range attempts {
		if a.AttemptNumber != i+1 {
			t.Errorf("attempt %d number = %d", i, a.AttemptNumber)
		}
	}

	w := h.webhook(t)
	if w.DeliverySuccessCount != 1 || w.DeliveryFailureCount != 0 {
		t.Errorf("webhook counters = %d/%d, want 1/0", w.DeliverySuccessCount, w.DeliveryFailureCount)
	}
}

func TestWorker_ExhaustedRetries_MarksFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	h := newHarness(t)
	h.seed(t, server.URL, 2)

	h.runNext(t)
	h.clock.Advance(time.Minute)
	h.runNext(t)

	d := h.delivery(t)
	if d.Status != domain.DeliveryStatusFailed || d.AttemptNumber != 2 {
		t.Errorf("delivery = %+v, want failed after 2 attempts", d)
	}

	w := h.webhook(t)
	if w.DeliveryFailureCount != 1 {
		t.Errorf("failure count = %d, want exactly 1", w.DeliveryFailureCount)
	}
	if w.LastError == nil || *w.LastError != "HTTP 502" {
		t.Errorf("last error = %v", w.LastError)
	}
	if c := h.counts(t); c.Failed != 1 || c.Delayed != 0 {
		t.Errorf("counts = %+v, want one failed job", c)
	}
}

func TestWorker_ClientError_IsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	h := newHarness(t)
	h.seed(t, server.URL, 4)
	h.runNext(t)

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if d := h.delivery(t); d.Status != domain.DeliveryStatusFailed {
		t.Errorf("status = %s, want failed", d.Status)
	}
	if w := h.webhook(t); w.DeliveryFailureCount != 1 || w.LastError == nil || *w.LastError != "HTTP 404" {
		t.Errorf("webhook = %+v, want one failure with HTTP 404", w)
	}
	if c := h.counts(t); c.Failed != 1 {
		t.Errorf("counts = %+v, want failed job", c)
	}
}

func TestWorker_NetworkError_IsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	h := newHarness(t)
	h.seed(t, url, 4)
	h.runNext(t)

	d := h.delivery(t)
	if d.Status != domain.DeliveryStatusRetrying || d.StatusCode != nil || d.ErrorMessage == nil {
		t.Errorf("delivery = %+v, want retrying with a network error", d)
	}
}

func TestWorker_Timeout_IsRetryable(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	h := newHarness(t)
	h.pool.config.Timeout = 50 * time.Millisecond
	h.seed(t, server.URL, 4)
	h.runNext(t)

	d := h.delivery(t)
	if d.Status != domain.DeliveryStatusRetrying || d.StatusCode != nil {
		t.Errorf("delivery = %+v, want retrying without a status code", d)
	}
	if d.ErrorMessage == nil || !strings.Contains(*d.ErrorMessage, "deadline exceeded") {
		t.Errorf("error = %v, want a timeout", d.ErrorMessage)
	}
	if w := h.webhook(t); w.DeliveryFailureCount != 0 {
		t.Errorf("failure count = %d, want untouched on a retryable timeout", w.DeliveryFailureCount)
	}
	if c := h.counts(t); c.Delayed != 1 {
		t.Errorf("counts = %+v, want one delayed job", c)
	}
}

func TestWorker_SucceedsOnLastAttempt(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	h := newHarness(t)
	h.seed(t, server.URL, 4)

	h.runNext(t)
	for _, backoff := range []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second} {
		if d := h.delivery(t); d.Status != domain.DeliveryStatusRetrying {
			t.Fatalf("status before attempt %d = %s, want retrying", d.AttemptNumber+1, d.Status)
		}
		h.clock.Advance(backoff)
		h.runNext(t)
	}

	d := h.delivery(t)
	if d.Status != domain.DeliveryStatusDelivered || d.AttemptNumber != 4 || d.DeliveredAt == nil {
		t.Errorf("delivery = %+v, want delivered on attempt 4", d)
	}
	w := h.webhook(t)
	if w.DeliverySuccessCount != 1 || w.DeliveryFailureCount != 0 {
		t.Errorf("webhook counters = %d/%d, want 1/0", w.DeliverySuccessCount, w.DeliveryFailureCount)
	}
	if c := h.counts(t); c.Completed != 1 || c.Failed != 0 {
		t.Errorf("counts = %+v, want one completed job", c)
	}
	attempts, _ := h.store.Deliveries().ListAttempts(context.Background(), "del-1")
	if len(attempts) != 4 {
		t.Errorf("attempts = %d, want 4", len(attempts))
	}
}

func TestWorker_ShutdownDuringSend_ReleasesJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	h := newHarness(t)
	h.seed(t, server.URL, 1)

	job, _ := h.queue.Dequeue(context.Background())
	if job == nil {
		t.Fatal("expected a ready job")
	}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	h.pool.process(ctx, job)

	d := h.delivery(t)
	if d.Status != domain.DeliveryStatusPending || d.LastAttemptAt != nil {
		t.Errorf("delivery = %+v, want untouched pending row", d)
	}
	if attempts, _ := h.store.Deliveries().ListAttempts(context.Background(), "del-1"); len(attempts) != 0 {
		t.Errorf("attempts = %d, want none recorded", len(attempts))
	}
	if w := h.webhook(t); w.DeliveryFailureCount != 0 || w.LastError != nil {
		t.Errorf("webhook = %+v, want no failure charged", w)
	}
	if got := testutil.ToFloat64(h.metrics.DeliveriesFailed); got != 0 {
		t.Errorf("failed metric = %v, want 0", got)
	}

	h.clock.Advance(time.Second)
	again, _ := h.queue.Dequeue(context.Background())
	if again == nil || again.Attempt != 1 {
		t.Errorf("job = %+v, want re-queued with its only attempt intact", again)
	}
}

func TestWorker_PausedWebhook_FailsWithoutSending(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	h := newHarness(t)
	h.seed(t, server.URL, 4)

	w := h.webhook(t)
	w.IsActive = false
	_ = h.store.Webhooks().Update(context.Background(), w)

	h.runNext(t)

	if calls.Load() != 0 {
		t.Error("paused webhook must not receive requests")
	}
	d := h.delivery(t)
	if d.Status != domain.DeliveryStatusFailed || d.ErrorMessage == nil || *d.ErrorMessage != reasonWebhookPaused {
		t.Errorf("delivery = %+v, want failed with %q", d, reasonWebhookPaused)
	}
	if w := h.webhook(t); w.DeliveryFailureCount != 1 {
		t.Errorf("failure count = %d, want 1", w.DeliveryFailureCount)
	}
}

func TestWorker_AlreadyDelivered_CompletesWithoutSending(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	h := newHarness(t)
	h.seed(t, server.URL, 4)

	d := h.delivery(t)
	d.MarkAsDelivered(h.clock.Now())
	_ = h.store.Deliveries().SaveAttempt(context.Background(), d, &domain.DeliveryAttempt{DeliveryID: d.ID, AttemptNumber: 1})

	h.runNext(t)

	if calls.Load() != 0 {
		t.Error("delivered row must not be sent again")
	}
	if c := h.counts(t); c.Completed != 1 {
		t.Errorf("counts = %+v, want completed job", c)
	}
	if w := h.webhook(t); w.DeliverySuccessCount != 0 {
		t.Errorf("success count = %d, want untouched", w.DeliverySuccessCount)
	}
}

func TestWorker_MissingDelivery_FailsJob(t *testing.T) {
	h := newHarness(t)
	_, _ = h.queue.Enqueue(context.Background(), queue.NewJob("ghost", "wh-1", 4, 0, h.clock.Now()))

	h.runNext(t)

	if c := h.counts(t); c.Failed != 1 {
		t.Errorf("counts = %+v, want failed job", c)
	}
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int) (bool, error) { return false, nil }

func TestWorker_Throttled_DoesNotConsumeAttempt(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	h := newHarness(t)
	h.pool.WithGate(resilience.NewGate(denyLimiter{}, nil, 10))
	h.seed(t, server.URL, 4)

	h.runNext(t)

	if calls.Load() != 0 {
		t.Error("throttled delivery must not be sent")
	}
	if d := h.delivery(t); d.Status != domain.DeliveryStatusPending {
		t.Errorf("status = %s, want pending", d.Status)
	}
	if got := testutil.ToFloat64(h.metrics.DeliveriesThrottled); got != 1 {
		t.Errorf("throttled metric = %v, want 1", got)
	}

	h.clock.Advance(time.Second)
	job, _ := h.queue.Dequeue(context.Background())
	if job == nil {
		t.Fatal("throttled job should be ready after the throttle delay")
	}
	if job.Attempt != 1 {
		t.Errorf("attempt = %d, want 1 after a throttled try", job.Attempt)
	}
}

func TestWorker_TruncatesResponseBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("é", 3000)))
	}))
	defer server.Close()

	h := newHarness(t)
	h.seed(t, server.URL, 4)
	h.runNext(t)

	d := h.delivery(t)
	if d.ResponseBody == nil || len([]rune(*d.ResponseBody)) != domain.MaxResponseBodyChars {
		t.Errorf("response body length = %d runes, want %d", len([]rune(*d.ResponseBody)), domain.MaxResponseBodyChars)
	}
}

type failingDeliveries struct {
	*memory.DeliveryRepository
}

func (failingDeliveries) GetByID(context.Context, string) (*domain.WebhookDelivery, error) {
	return nil, errors.New("connection reset")
}

func TestWorker_StoreError_RequeuesWithoutConsumingAttempt(t *testing.T) {
	h := newHarness(t)
	h.pool.deliveries = failingDeliveries{h.store.Deliveries()}
	_, _ = h.queue.Enqueue(context.Background(), queue.NewJob("del-1", "wh-1", 4, 0, h.clock.Now()))

	h.runNext(t)

	h.clock.Advance(time.Second)
	job, _ := h.queue.Dequeue(context.Background())
	if job == nil || job.Attempt != 1 {
		t.Errorf("job = %+v, want re-queued with attempt 1", job)
	}
}

type failingSaves struct {
	*memory.DeliveryRepository
}

func (failingSaves) SaveAttempt(context.Context, *domain.WebhookDelivery, *domain.DeliveryAttempt) error {
	return errors.New("connection reset")
}

func TestWorker_SaveError_RequeuesWithoutCounting(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	h := newHarness(t)
	h.seed(t, server.URL, 4)
	h.pool.deliveries = failingSaves{h.store.Deliveries()}

	h.runNext(t)

	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
	if d := h.delivery(t); d.Status != domain.DeliveryStatusPending || d.DeliveredAt != nil {
		t.Errorf("delivery = %+v, want pending", d)
	}
	if w := h.webhook(t); w.DeliverySuccessCount != 0 || w.DeliveryFailureCount != 0 {
		t.Errorf("webhook counters = %d/%d, want untouched", w.DeliverySuccessCount, w.DeliveryFailureCount)
	}
	if got := testutil.ToFloat64(h.metrics.DeliveriesDelivered); got != 0 {
		t.Errorf("delivered metric = %v, want 0", got)
	}
	if c := h.counts(t); c.Completed != 0 || c.Delayed != 1 {
		t.Errorf("counts = %+v, want the job re-queued", c)
	}

	h.pool.deliveries = h.store.Deliveries()
	h.clock.Advance(time.Second)
	job := h.runNext(t)

	if job.Attempt != 1 {
		t.Errorf("attempt = %d, want 1 after a failed save", job.Attempt)
	}
	if d := h.delivery(t); !d.IsDelivered() {
		t.Errorf("delivery = %+v, want delivered on the resend", d)
	}
	if w := h.webhook(t); w.DeliverySuccessCount != 1 {
		t.Errorf("success count = %d, want 1", w.DeliverySuccessCount)
	}
}

func TestPool_StartStop_DeliversQueuedJobs(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	clk := clock.RealClock{}
	store := memory.NewStore()
	q := queue.NewMemory(clk, time.Minute)
	h := &harness{store: store, queue: q, clock: clock.NewMockClock(time.Now())}
	h.seed(t, server.URL, 4)

	pool := NewPool(Config{Workers: 2, PollInterval: 10 * time.Millisecond}, q, store.Deliveries(), store.Webhooks(), server.Client(), clk, retry.DefaultPolicy(), nil)
	pool.Start(context.Background())
	defer pool.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d := h.delivery(t); d.IsDelivered() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if d := h.delivery(t); !d.IsDelivered() {
		t.Fatalf("delivery not delivered by running pool: %+v", d)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}
