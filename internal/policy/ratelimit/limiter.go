// Package ratelimit throttles browser navigations and detail fetches per host.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
	"github.com/JakeFAU/joblisting-crawler/internal/metrics"
)

// Config holds rate limiter configuration. A non-positive RPS disables throttling.
type Config struct {
	RPS     float64
	Burst   int
	PerHost map[string]float64
}

// Limiter keeps one token bucket per host.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	perHost  map[string]rate.Limit
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	perHost := make(map[string]rate.Limit, len(cfg.PerHost))
	for host, rps := range cfg.PerHost {
		perHost[strings.ToLower(strings.TrimSpace(host))] = toLimit(rps)
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     toLimit(cfg.RPS),
		burst:    burst,
		perHost:  perHost,
	}
}

func toLimit(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

// Wait blocks until rawURL's host may be contacted again.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := crawler.Hostname(rawURL)
	if host == "" {
		host = "unknown"
	}
	limiter := l.forHost(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func (l *Limiter) forHost(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters[host]; ok {
		return limiter
	}
	r := l.rate
	if override, ok := l.perHost[host]; ok {
		r = override
	}
	limiter := rate.NewLimiter(r, l.burst)
	l.limiters[host] = limiter
	return limiter
}

// Hosts returns the number of hosts seen so far.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
