// Package retry computes delivery backoff and runs the reconciliation sweep
// that re-enqueues deliveries whose jobs were lost.
package retry

import (
	"math"
	"math/rand"
	"time"
)

type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64
	MaxAttempts     int
}

// DefaultPolicy allows four attempts with delays of roughly 5s, 10s and 20s
// between them.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 5 * time.Second,
		MaxInterval:     1 * time.Hour,
		Multiplier:      2.0,
		Jitter:          0.1,
		MaxAttempts:     4,
	}
}

// CalculateDelay returns the wait after the given failed attempt (1-based).
func (p Policy) CalculateDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(attempt-1))

	if delay > float64(p.MaxInterval) {
		delay = float64(p.MaxInterval)
	}

	if p.Jitter > 0 {
		jitterRange := delay * p.Jitter
		jitterOffset := (rand.Float64()*2 - 1) * jitterRange
		delay += jitterOffset
	}

	return time.Duration(delay)
}

func (p Policy) NextAttemptTime(now time.Time, attempt int) time.Time {
	return now.Add(p.CalculateDelay(attempt))
}
