package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerConfig controls the breaker kept for each webhook. A breaker
// opens once MinRequests deliveries were made in the current Interval and at
// least FailureRatio of them failed. After Timeout it lets MaxRequests probe
// deliveries through.
type CircuitBreakerConfig struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

type CircuitBreakerState string

const (
	CircuitBreakerStateClosed   CircuitBreakerState = "closed"
	CircuitBreakerStateOpen     CircuitBreakerState = "open"
	CircuitBreakerStateHalfOpen CircuitBreakerState = "half-open"
)

// BreakerHook observes a webhook's breaker moving between states.
type BreakerHook func(webhookID string, from, to CircuitBreakerState)

// CircuitBreakerManager keeps one breaker per webhook, so an endpoint that
// keeps failing only throttles its own deliveries.
type CircuitBreakerManager struct {
	config CircuitBreakerConfig
	hook   BreakerHook

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewCircuitBreakerManager(config CircuitBreakerConfig) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		config:   config,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// OnStateChange registers the transition hook. It must be set before the
// first delivery goes through the manager.
func (m *CircuitBreakerManager) OnStateChange(fn BreakerHook) {
	m.hook = fn
}

// Execute runs fn through the webhook's breaker. An open breaker returns
// gobreaker.ErrOpenState without calling fn. An fn cancelled through its
// context counts as neither a failure nor a trip.
func (m *CircuitBreakerManager) Execute(webhookID string, fn func() (interface{}, error)) (interface{}, error) {
	return m.breaker(webhookID).Execute(fn)
}

// State reports the webhook's breaker state. Webhooks that have not been
// delivered to yet are closed.
func (m *CircuitBreakerManager) State(webhookID string) CircuitBreakerState {
	m.mu.Lock()
	cb, ok := m.breakers[webhookID]
	m.mu.Unlock()
	if !ok {
		return CircuitBreakerStateClosed
	}
	return toState(cb.State())
}

// Remove drops the breaker of a deleted webhook. A breaker that was not
// closed is reported to the hook as closing, so its gauge resets.
func (m *CircuitBreakerManager) Remove(webhookID string) {
	m.mu.Lock()
	cb, ok := m.breakers[webhookID]
	delete(m.breakers, webhookID)
	m.mu.Unlock()

	if !ok {
		return
	}
	if from := toState(cb.State()); from != CircuitBreakerStateClosed {
		m.notify(webhookID, from, CircuitBreakerStateClosed)
	}
}

func (m *CircuitBreakerManager) breaker(webhookID string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	cb, ok := m.breakers[webhookID]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(m.settings(webhookID))
		m.breakers[webhookID] = cb
	}
	return cb
}

func (m *CircuitBreakerManager) settings(webhookID string) gobreaker.Settings {
	cfg := m.config
	return gobreaker.Settings{
		Name:        webhookID,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= cfg.MinRequests &&
				float64(c.TotalFailures) >= cfg.FailureRatio*float64(c.Requests)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.notify(name, toState(from), toState(to))
		},
	}
}

func (m *CircuitBreakerManager) notify(webhookID string, from, to CircuitBreakerState) {
	if m.hook != nil {
		m.hook(webhookID, from, to)
	}
}

func toState(s gobreaker.State) CircuitBreakerState {
	switch s {
	case gobreaker.StateOpen:
		return CircuitBreakerStateOpen
	case gobreaker.StateHalfOpen:
		return CircuitBreakerStateHalfOpen
	default:
		return CircuitBreakerStateClosed
	}
}
