package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/felipemaragno/hookline/internal/clock"
	"github.com/felipemaragno/hookline/internal/domain"
	"github.com/felipemaragno/hookline/internal/observability"
	"github.com/felipemaragno/hookline/internal/retry"
)

// EventPublisher builds and fans out the webhook event for one entity.
// *publisher.Publisher satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.WebhookEvent, entityID, tenantID string) (int, error)
}

// HandlerOption configures a LifecycleHandler.
type HandlerOption func(*LifecycleHandler)

// WithRetryPolicy sets the in-handler backoff for transient publish errors.
func WithRetryPolicy(p retry.Policy) HandlerOption {
	return func(h *LifecycleHandler) {
		h.retryPolicy = p
	}
}

// WithClock sets the clock used to wait between attempts.
func WithClock(c clock.Clock) HandlerOption {
	return func(h *LifecycleHandler) {
		h.clock = c
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) HandlerOption {
	return func(h *LifecycleHandler) {
		h.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *LifecycleHandler) {
		h.logger = l
	}
}

// DefaultRetryPolicy retries a transient publish failure a few times within
// one batch before the consumer backs off and reprocesses it.
func DefaultRetryPolicy() retry.Policy {
	return retry.Policy{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
		Jitter:          0.1,
		MaxAttempts:     3,
	}
}

const (
	outcomePublished = "published"
	outcomeSkipped   = "skipped"
	outcomeFailed    = "failed"
)

// isPermanent reports whether err comes from the message itself, so
// retrying cannot change the result.
func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrEntityNotFound) ||
		errors.Is(err, domain.ErrInvalidState) ||
		errors.Is(err, domain.ErrInvalidPayload) ||
		errors.Is(err, domain.ErrInvalidEvent)
}

// LifecycleHandler maps lifecycle messages to publisher calls.
type LifecycleHandler struct {
	publisher   EventPublisher
	retryPolicy retry.Policy
	clock       clock.Clock
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewLifecycleHandler creates a handler with functional options.
func NewLifecycleHandler(pub EventPublisher, opts ...HandlerOption) *LifecycleHandler {
	h := &LifecycleHandler{
		publisher:   pub,
		retryPolicy: DefaultRetryPolicy(),
		clock:       clock.RealClock{},
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(h)
	}
	if h.retryPolicy.MaxAttempts < 1 {
		h.retryPolicy.MaxAttempts = 1
	}

	return h
}

// ProcessBatch publishes messages for different entities concurrently and
// messages for the same entity in order. Once a message fails, the later
// messages for that entity are reported failed without being attempted.
func (h *LifecycleHandler) ProcessBatch(ctx context.Context, msgs []*LifecycleMessage) (published, skipped, failed []*LifecycleMessage) {
	if len(msgs) == 0 {
		return nil, nil, nil
	}

	groups := make(map[string][]int)
	var order []string
	for i, m := range msgs {
		if _, ok := groups[m.EntityID]; !ok {
			order = append(order, m.EntityID)
		}
		groups[m.EntityID] = append(groups[m.EntityID], i)
	}

	results := make([]string, len(msgs))
	var wg sync.WaitGroup

	for _, entityID := range order {
		wg.Add(1)
		go func(idxs []int) {
			defer wg.Done()
			blocked := false
			for _, idx := range idxs {
				if blocked {
					results[idx] = outcomeFailed
					continue
				}
				results[idx] = h.handle(ctx, msgs[idx])
				if results[idx] == outcomeFailed {
					blocked = true
				}
			}
		}(groups[entityID])
	}

	wg.Wait()

	for i, outcome := range results {
		switch outcome {
		case outcomePublished:
			published = append(published, msgs[i])
		case outcomeSkipped:
			skipped = append(skipped, msgs[i])
		default:
			failed = append(failed, msgs[i])
		}
	}
	return published, skipped, failed
}

func (h *LifecycleHandler) handle(ctx context.Context, msg *LifecycleMessage) string {
	logger := h.logger.With(
		"event", msg.Event,
		"entity_id", msg.EntityID,
		"tenant_id", msg.TenantID,
	)

	for attempt := 1; ; attempt++ {
		n, err := h.publisher.Publish(ctx, msg.Event, msg.EntityID, msg.TenantID)
		if err == nil {
			logger.Debug("lifecycle event published", "deliveries", n)
			h.record(msg, outcomePublished)
			return outcomePublished
		}

		if isPermanent(err) {
			logger.Warn("skipping lifecycle message", "error", err)
			h.record(msg, outcomeSkipped)
			return outcomeSkipped
		}

		if attempt >= h.retryPolicy.MaxAttempts {
			logger.Error("lifecycle message failed", "error", err, "attempts", attempt)
			h.record(msg, outcomeFailed)
			return outcomeFailed
		}

		delay := h.retryPolicy.CalculateDelay(attempt)
		logger.Warn("publish failed, retrying", "error", err, "attempt", attempt, "delay", delay)

		select {
		case <-ctx.Done():
			h.record(msg, outcomeFailed)
			return outcomeFailed
		case <-h.clock.After(delay):
		}
	}
}

func (h *LifecycleHandler) record(msg *LifecycleMessage, outcome string) {
	if h.metrics != nil {
		h.metrics.LifecycleMessages.WithLabelValues(string(msg.Event), outcome).Inc()
	}
}
