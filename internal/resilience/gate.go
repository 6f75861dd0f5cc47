package resilience

import (
	"context"
	"errors"

	"github.com/sony/gobreaker"
)

var (
	// ErrRateLimited indicates the webhook is over its request rate.
	ErrRateLimited = errors.New("webhook rate limited")
	// ErrCircuitOpen indicates the webhook's breaker is rejecting requests.
	ErrCircuitOpen = errors.New("webhook circuit open")
)

// Gate applies the rate limit and circuit breaker for a webhook around one
// delivery attempt.
type Gate struct {
	limiter  RateLimiter
	breakers *CircuitBreakerManager
	limit    int
}

// NewGate builds a gate. Either limiter or breakers may be nil to disable
// that check. limit is the per-webhook requests per second.
func NewGate(limiter RateLimiter, breakers *CircuitBreakerManager, limit int) *Gate {
	if limit <= 0 {
		limit = int(DefaultRateLimiterConfig().RequestsPerSecond)
	}
	return &Gate{
		limiter:  limiter,
		breakers: breakers,
		limit:    limit,
	}
}

// Do calls send unless the webhook is throttled, in which case it returns
// ErrRateLimited or ErrCircuitOpen. send returns a non-nil error only for
// failures that should count against the breaker; that error is returned
// unchanged.
func (g *Gate) Do(ctx context.Context, webhookID string, send func() error) error {
	if g.limiter != nil {
		allowed, err := g.limiter.Allow(ctx, webhookID, g.limit)
		if err == nil && !allowed {
			return ErrRateLimited
		}
	}

	if g.breakers == nil {
		return send()
	}

	_, err := g.breakers.Execute(webhookID, func() (interface{}, error) {
		return nil, send()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// IsThrottled reports whether err came from the gate rather than from send.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrCircuitOpen)
}

// Forget drops per-webhook state, for webhooks that no longer exist.
func (g *Gate) Forget(webhookID string) {
	if g.breakers != nil {
		g.breakers.Remove(webhookID)
	}
	if l, ok := g.limiter.(*LocalRateLimiter); ok {
		l.Remove(webhookID)
	}
}
