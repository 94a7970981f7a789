package crawler

import (
	"context"
	"errors"
	"math"
	"time"
)

// RetryPolicy decides whether and when a failed fetch attempt is repeated.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
	MaxAttempts() int
}

// BackoffRetryPolicy retries transient failures up to a fixed number of
// attempts. With Multiplier 1 every wait equals Base; larger multipliers grow
// the wait per attempt up to Max.
type BackoffRetryPolicy struct {
	Attempts   int
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

// NewFixedRetryPolicy builds a policy that waits the same backoff between
// attempts.
func NewFixedRetryPolicy(attempts int, backoff time.Duration) *BackoffRetryPolicy {
	return &BackoffRetryPolicy{
		Attempts:   attempts,
		Base:       backoff,
		Multiplier: 1,
	}
}

// MaxAttempts returns the total number of attempts including the first.
func (p *BackoffRetryPolicy) MaxAttempts() int {
	if p.Attempts <= 0 {
		return 1
	}
	return p.Attempts
}

// ShouldRetry reports whether attempt (1-based, already made) may be followed
// by another one.
func (p *BackoffRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.MaxAttempts() {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return IsTransient(err)
}

// Backoff returns the wait before the attempt following attempt.
func (p *BackoffRetryPolicy) Backoff(attempt int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	exp := attempt - 1
	if exp < 0 {
		exp = 0
	}
	delay := float64(p.Base) * math.Pow(mult, float64(exp))
	if p.Max > 0 && delay > float64(p.Max) {
		delay = float64(p.Max)
	}
	return time.Duration(delay)
}
