// Package worker implements the webhook delivery engine.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│   Worker 1  │     │   Worker 2  │     │   Worker N  │
//	└──────┬──────┘     └──────┬──────┘     └──────┬──────┘
//	       │                   │                   │
//	       └───────────────────┼───────────────────┘
//	                           │
//	                    ┌──────▼──────┐
//	                    │    Queue    │  (leased jobs, one per delivery)
//	                    └──────┬──────┘
//	                           │
//	                    ┌──────▼──────┐
//	                    │  Delivery   │  (payload bytes, audit trail)
//	                    │    rows     │
//	                    └─────────────┘
//
// Each worker goroutine:
//  1. Claims the next ready job from the queue
//  2. Loads the delivery row and its webhook
//  3. Applies the per-webhook rate limit and circuit breaker
//  4. POSTs the stored payload with an HMAC-SHA256 signature
//  5. Records the attempt and completes, fails or re-schedules the job
//
// A job whose lease expires while a worker is busy is handed to another
// worker, so delivery is at-least-once.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/felipemaragno/hookline/internal/clock"
	"github.com/felipemaragno/hookline/internal/domain"
	"github.com/felipemaragno/hookline/internal/observability"
	"github.com/felipemaragno/hookline/internal/queue"
	"github.com/felipemaragno/hookline/internal/repository"
	"github.com/felipemaragno/hookline/internal/resilience"
	"github.com/felipemaragno/hookline/internal/retry"
	"github.com/felipemaragno/hookline/internal/signature"
)

const (
	reasonWebhookNotFound = "webhook not found"
	reasonWebhookPaused   = "webhook is paused"
)

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config defines worker pool parameters.
//
// Workers: Number of concurrent delivery goroutines.
// PollInterval: How often an idle worker checks the queue.
// BatchSize: Maximum jobs a worker claims per poll.
// Timeout: HTTP request timeout for one delivery attempt.
// ThrottleDelay: How long a throttled job waits before it is retried.
type Config struct {
	Workers       int
	PollInterval  time.Duration
	BatchSize     int
	Timeout       time.Duration
	ThrottleDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:       10,
		PollInterval:  100 * time.Millisecond,
		BatchSize:     10,
		Timeout:       10 * time.Second,
		ThrottleDelay: time.Second,
	}
}

// Pool manages worker goroutines for webhook delivery.
// Use NewPool to create, then call Start to begin processing.
// Call Stop for graceful shutdown.
type Pool struct {
	config      Config
	queue       queue.Queue
	deliveries  repository.DeliveryRepository
	webhooks    repository.WebhookRepository
	httpClient  HTTPClient
	clock       clock.Clock
	retryPolicy retry.Policy
	logger      *slog.Logger
	metrics     *observability.Metrics
	tracer      *observability.Tracer
	gate        *resilience.Gate

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool creates a worker pool with the given dependencies.
// Use WithMetrics and WithGate to add optional features.
func NewPool(
	config Config,
	q queue.Queue,
	deliveries repository.DeliveryRepository,
	webhooks repository.WebhookRepository,
	httpClient HTTPClient,
	clk clock.Clock,
	retryPolicy retry.Policy,
	logger *slog.Logger,
) *Pool {
	defaults := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.ThrottleDelay <= 0 {
		config.ThrottleDelay = defaults.ThrottleDelay
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pool{
		config:      config,
		queue:       q,
		deliveries:  deliveries,
		webhooks:    webhooks,
		httpClient:  httpClient,
		clock:       clk,
		retryPolicy: retryPolicy,
		logger:      logger,
		tracer:      observability.NewTracer(),
	}
}

// WithMetrics enables Prometheus metrics collection.
func (p *Pool) WithMetrics(m *observability.Metrics) *Pool {
	p.metrics = m
	return p
}

// WithGate enables per-webhook rate limiting and circuit breaking. Throttled
// jobs are re-queued after ThrottleDelay without consuming an attempt.
func (p *Pool) WithGate(g *resilience.Gate) *Pool {
	p.gate = g
	return p
}

func (p *Pool) WithTracer(t *observability.Tracer) *Pool {
	p.tracer = t
	return p
}

func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.logger.Info("worker pool started", "workers", p.config.Workers)
}

func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("worker shutting down", "worker_id", id)
			return
		case <-ticker.C:
			p.processJobs(ctx, id)
		}
	}
}

func (p *Pool) processJobs(ctx context.Context, workerID int) {
	for i := 0; i < p.config.BatchSize; i++ {
		if ctx.Err() != nil {
			return
		}
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				p.logger.Error("failed to dequeue job", "error", err, "worker_id", workerID)
			}
			return
		}
		if job == nil {
			return
		}
		p.process(ctx, job)
	}
}

// outcome classifies one HTTP attempt.
type outcome struct {
	statusCode int
	body       string
	errMsg     string
	duration   time.Duration
	success    bool
	permanent  bool
}

// interrupted reports whether the attempt got no response because ctx was
// cancelled. Such an attempt says nothing about the endpoint.
func (o outcome) interrupted(ctx context.Context) bool {
	return o.statusCode == 0 && ctx.Err() != nil
}

// process runs the delivery state machine for one claimed job.
func (p *Pool) process(ctx context.Context, job *queue.Job) {
	logger := p.logger.With(
		"delivery_id", job.DeliveryID,
		"webhook_id", job.WebhookID,
		"attempt", job.AttemptNumber(),
	)

	d, err := p.deliveries.GetByID(ctx, job.DeliveryID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn("delivery row missing, dropping job")
		p.failJob(ctx, job, "delivery not found")
		return
	}
	if err != nil {
		logger.Error("failed to load delivery", "error", err)
		p.requeue(ctx, job, err.Error())
		return
	}
	if d.IsDelivered() {
		p.completeJob(ctx, job)
		return
	}

	w, err := p.webhooks.GetByID(ctx, d.WebhookID)
	if errors.Is(err, domain.ErrNotFound) {
		if p.gate != nil {
			p.gate.Forget(d.WebhookID)
		}
		p.terminate(ctx, job, d, nil, reasonWebhookNotFound, logger)
		return
	}
	if err != nil {
		logger.Error("failed to load webhook", "error", err)
		p.requeue(ctx, job, err.Error())
		return
	}
	if !w.IsActive {
		p.terminate(ctx, job, d, w, reasonWebhookPaused, logger)
		return
	}

	sig := signature.Sign(d.Payload, w.Secret)

	var res outcome
	send := func() error {
		res = p.send(ctx, d, sig, job.AttemptNumber())
		if res.interrupted(ctx) {
			return ctx.Err()
		}
		if !res.success && !res.permanent {
			return errors.New(res.errMsg)
		}
		return nil
	}

	if p.gate != nil {
		err = p.gate.Do(ctx, w.ID, send)
	} else {
		err = send()
	}
	if resilience.IsThrottled(err) {
		p.throttle(ctx, job, err, logger)
		return
	}
	if res.interrupted(ctx) {
		logger.Info("delivery interrupted by shutdown, releasing job", "error", res.errMsg)
		p.requeue(ctx, job, "interrupted by shutdown")
		return
	}

	// The endpoint answered; its outcome is recorded even once shutdown
	// has begun.
	ctx = context.WithoutCancel(ctx)

	p.recordMetricAttempt(res.duration)

	now := p.clock.Now()
	attempt := &domain.DeliveryAttempt{
		DeliveryID:    d.ID,
		AttemptNumber: job.AttemptNumber(),
		DurationMs:    int(res.duration.Milliseconds()),
		CreatedAt:     now,
	}
	if res.statusCode > 0 {
		code := res.statusCode
		attempt.StatusCode = &code
		body := res.body
		attempt.ResponseBody = &body
	}
	if res.errMsg != "" {
		msg := res.errMsg
		attempt.ErrorMessage = &msg
	}
	d.RecordAttempt(attempt, sig)

	switch {
	case res.success:
		d.MarkAsDelivered(now)
		if !p.saveAttempt(ctx, job, d, attempt, logger) {
			return
		}
		if err := p.webhooks.RecordSuccess(ctx, w.ID, now); err != nil {
			logger.Error("failed to record webhook success", "error", err)
		}
		logger.Debug("delivery successful",
			"status_code", res.statusCode,
			"duration_ms", attempt.DurationMs,
		)
		p.recordMetricDelivered()
		p.completeJob(ctx, job)

	case res.permanent || job.Exhausted():
		d.MarkAsFailed(now)
		if !p.saveAttempt(ctx, job, d, attempt, logger) {
			return
		}
		if err := p.webhooks.RecordFailure(ctx, w.ID, res.errMsg, now); err != nil {
			logger.Error("failed to record webhook failure", "error", err)
		}
		logger.Warn("delivery failed permanently",
			"error", res.errMsg,
			"permanent", res.permanent,
		)
		p.recordMetricFailed()
		p.failJob(ctx, job, res.errMsg)

	default:
		d.MarkAsRetrying(now)
		if !p.saveAttempt(ctx, job, d, attempt, logger) {
			return
		}
		delay := p.retryPolicy.CalculateDelay(job.Attempt)
		logger.Info("scheduling retry",
			"error", res.errMsg,
			"next_attempt_at", now.Add(delay),
		)
		p.recordMetricRetrying()
		p.logQueueErr("schedule retry", job, p.queue.Retry(ctx, job, delay, res.errMsg))
	}
}

// send POSTs the stored payload bytes. It never returns an error; network
// failures are reported in the outcome.
func (p *Pool) send(ctx context.Context, d *domain.WebhookDelivery, sig string, attemptNumber int) outcome {
	ctx, span := p.tracer.StartDeliverySpan(ctx, d.ID, d.WebhookID, d.EventType.String(), attemptNumber)
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	start := p.clock.Now()
	res := p.post(ctx, d, sig)
	res.duration = p.clock.Since(start)

	p.tracer.EndDeliverySpan(span, res.statusCode, res.duration.Milliseconds(), res.errMsg)
	return res
}

func (p *Pool) post(ctx context.Context, d *domain.WebhookDelivery, sig string) outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return outcome{errMsg: fmt.Sprintf("build request: %v", err), permanent: true}
	}
	signature.SetHeaders(req.Header, signature.Delivery{
		ID:      d.ID,
		EventID: d.EventID,
		Event:   d.EventType.String(),
	}, sig, p.clock.Now())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return outcome{errMsg: err.Error()}
	}
	defer resp.Body.Close()

	// UTF-8 runes are at most 4 bytes.
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*domain.MaxResponseBodyChars))
	res := outcome{
		statusCode: resp.StatusCode,
		body:       domain.TruncateBody(string(raw)),
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		res.success = true
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		res.permanent = true
		res.errMsg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	default:
		res.errMsg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return res
}

// terminate ends a delivery without an HTTP attempt. w is nil when the
// webhook no longer exists, in which case no counter is touched.
func (p *Pool) terminate(ctx context.Context, job *queue.Job, d *domain.WebhookDelivery, w *domain.Webhook, reason string, logger *slog.Logger) {
	now := p.clock.Now()
	msg := reason
	attempt := &domain.DeliveryAttempt{
		DeliveryID:    d.ID,
		AttemptNumber: job.AttemptNumber(),
		ErrorMessage:  &msg,
		CreatedAt:     now,
	}
	d.RecordAttempt(attempt, "")
	d.MarkAsFailed(now)

	if !p.saveAttempt(ctx, job, d, attempt, logger) {
		return
	}
	if w != nil {
		if err := p.webhooks.RecordFailure(ctx, w.ID, reason, now); err != nil {
			logger.Error("failed to record webhook failure", "error", err)
		}
	}
	logger.Warn("delivery failed permanently", "error", reason)
	p.recordMetricFailed()
	p.failJob(ctx, job, reason)
}

// saveAttempt persists the attempt. When it returns false the caller must
// not touch counters or finish the job: either another worker already
// delivered the row and the job is completed, or the write failed and the
// job is requeued without consuming the attempt, so the delivery is sent
// again.
func (p *Pool) saveAttempt(ctx context.Context, job *queue.Job, d *domain.WebhookDelivery, a *domain.DeliveryAttempt, logger *slog.Logger) bool {
	err := p.deliveries.SaveAttempt(ctx, d, a)
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrAlreadyDelivered):
		logger.Info("delivery already delivered by another worker")
		p.completeJob(ctx, job)
	default:
		logger.Error("failed to save delivery attempt, requeueing", "error", err)
		p.requeue(ctx, job, err.Error())
	}
	return false
}

// throttle re-queues a job the gate rejected without consuming an attempt.
func (p *Pool) throttle(ctx context.Context, job *queue.Job, reason error, logger *slog.Logger) {
	logger.Debug("delivery throttled", "reason", reason.Error())
	if p.metrics != nil {
		p.metrics.DeliveriesThrottled.Inc()
		if errors.Is(reason, resilience.ErrRateLimited) {
			p.metrics.RateLimiterRejections.WithLabelValues(job.WebhookID).Inc()
		}
	}
	p.requeue(ctx, job, reason.Error())
}

// requeue releases the job after ThrottleDelay, undoing the attempt
// increment made by Dequeue. It runs on shutdown too, so the release is
// not tied to ctx cancellation.
func (p *Pool) requeue(ctx context.Context, job *queue.Job, reason string) {
	if job.Attempt > 0 {
		job.Attempt--
	}
	p.logQueueErr("requeue job", job, p.queue.Retry(context.WithoutCancel(ctx), job, p.config.ThrottleDelay, reason))
}

func (p *Pool) completeJob(ctx context.Context, job *queue.Job) {
	p.logQueueErr("complete job", job, p.queue.Complete(ctx, job))
}

func (p *Pool) failJob(ctx context.Context, job *queue.Job, reason string) {
	p.logQueueErr("fail job", job, p.queue.Fail(ctx, job, reason))
}

// logQueueErr reports a failed queue transition. A lost claim means the
// lease expired and another worker owns the job now.
func (p *Pool) logQueueErr(op string, job *queue.Job, err error) {
	switch {
	case err == nil:
	case errors.Is(err, queue.ErrClaimLost):
		p.logger.Warn("job claim lost before "+op, "delivery_id", job.DeliveryID)
	default:
		p.logger.Error("failed to "+op, "error", err, "delivery_id", job.DeliveryID)
	}
}

func (p *Pool) recordMetricDelivered() {
	if p.metrics != nil {
		p.metrics.DeliveriesDelivered.Inc()
	}
}

func (p *Pool) recordMetricFailed() {
	if p.metrics != nil {
		p.metrics.DeliveriesFailed.Inc()
	}
}

func (p *Pool) recordMetricRetrying() {
	if p.metrics != nil {
		p.metrics.DeliveriesRetrying.Inc()
	}
}

func (p *Pool) recordMetricAttempt(duration time.Duration) {
	if p.metrics != nil {
		p.metrics.DeliveryAttempts.Inc()
		p.metrics.DeliveryDuration.Observe(duration.Seconds())
	}
}
