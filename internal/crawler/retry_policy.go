package crawler

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// RetryPolicy decides whether and when a failed task attempt is retried.
type RetryPolicy interface {
	ShouldRetry(task ScrapingTask, err error) bool
	Backoff(attempt int) time.Duration
}

// ExponentialRetryPolicy retries retryable errors with jittered exponential backoff.
type ExponentialRetryPolicy struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewExponentialRetryPolicy builds a policy. Non-positive delays fall back to defaults.
func NewExponentialRetryPolicy(baseDelay, maxDelay time.Duration) *ExponentialRetryPolicy {
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &ExponentialRetryPolicy{
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
	}
}

// ShouldRetry reports whether task gets another attempt after err. A task is
// attempted at most MaxRetries+1 times.
func (p *ExponentialRetryPolicy) ShouldRetry(task ScrapingTask, err error) bool {
	if err == nil || task.Exhausted() {
		return false
	}
	return IsRetryable(err)
}

// Backoff returns the wait duration before the given attempt (0-based).
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *ExponentialRetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
