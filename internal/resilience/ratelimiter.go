// Package resilience protects webhook endpoints with per-webhook rate
// limiting and circuit breaking ahead of each delivery attempt.
//
// This package uses:
//   - golang.org/x/time/rate for token bucket limiting in process.
//   - github.com/sony/gobreaker for circuit breaking.
//   - github.com/redis/go-redis/v9 for a rate limit shared across workers.
package resilience

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter decides whether a delivery to a webhook may be sent now.
type RateLimiter interface {
	Allow(ctx context.Context, webhookID string, limit int) (bool, error)
}

// RateLimiterConfig defines the rate limiting parameters.
//
// RequestsPerSecond controls the steady-state rate of allowed requests.
// BurstSize allows temporary spikes above the rate limit.
type RateLimiterConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 100,
		BurstSize:         10,
	}
}

// RateLimiterManager maintains per-webhook token buckets, created lazily
// with double-checked locking.
type RateLimiterManager struct {
	config   RateLimiterConfig
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

func NewRateLimiterManager(config RateLimiterConfig) *RateLimiterManager {
	return &RateLimiterManager{
		config:   config,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (m *RateLimiterManager) GetLimiter(webhookID string) *rate.Limiter {
	m.mu.RLock()
	limiter, exists := m.limiters[webhookID]
	m.mu.RUnlock()

	if exists {
		return limiter
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if limiter, exists = m.limiters[webhookID]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Limit(m.config.RequestsPerSecond), m.config.BurstSize)
	m.limiters[webhookID] = limiter
	return limiter
}

func (m *RateLimiterManager) Allow(webhookID string) bool {
	return m.GetLimiter(webhookID).Allow()
}

// SetRateIfNotExists installs a limiter with the given rate unless the
// webhook already has one.
func (m *RateLimiterManager) SetRateIfNotExists(webhookID string, requestsPerSecond float64, burstSize int) {
	m.mu.RLock()
	_, exists := m.limiters[webhookID]
	m.mu.RUnlock()

	if exists {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists = m.limiters[webhookID]; exists {
		return
	}
	m.limiters[webhookID] = rate.NewLimiter(rate.Limit(requestsPerSecond), burstSize)
}

// Remove drops the webhook's limiter.
func (m *RateLimiterManager) Remove(webhookID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.limiters, webhookID)
}

// LocalRateLimiter adapts RateLimiterManager to the RateLimiter interface.
type LocalRateLimiter struct {
	manager *RateLimiterManager
}

func NewLocalRateLimiter(config RateLimiterConfig) *LocalRateLimiter {
	return &LocalRateLimiter{manager: NewRateLimiterManager(config)}
}

func (l *LocalRateLimiter) Allow(_ context.Context, webhookID string, limit int) (bool, error) {
	l.manager.SetRateIfNotExists(webhookID, float64(limit), limit/10+1)
	return l.manager.Allow(webhookID), nil
}

func (l *LocalRateLimiter) Remove(webhookID string) {
	l.manager.Remove(webhookID)
}
