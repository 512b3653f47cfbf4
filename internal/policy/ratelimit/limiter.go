// Package ratelimit spaces requests to the same origin so the crawler honours
// request_delay and robots.txt crawl-delay.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/leadcrawl/internal/canonical"
	"github.com/JakeFAU/leadcrawl/internal/metrics"
)

// Limiter manages one token bucket per origin.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	delays       map[string]time.Duration
	defaultDelay time.Duration
}

// Config holds rate limiter configuration.
type Config struct {
	// DefaultDelay is the minimum spacing between requests to one origin.
	// Zero leaves an origin unthrottled until SetDelay raises it.
	DefaultDelay time.Duration
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	delay := cfg.DefaultDelay
	if delay < 0 {
		delay = 0
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		delays:       make(map[string]time.Duration),
		defaultDelay: delay,
	}
}

func limitFor(delay time.Duration) rate.Limit {
	if delay <= 0 {
		return rate.Inf
	}
	return rate.Every(delay)
}

func originOf(rawURL string) string {
	if origin := canonical.Origin(rawURL); origin != "" {
		return origin
	}
	return "unknown"
}

// SetDelay raises the spacing for the origin of rawURL to at least delay.
// Smaller values never lower the configured default.
func (l *Limiter) SetDelay(rawURL string, delay time.Duration) {
	origin := originOf(rawURL)
	l.mu.Lock()
	defer l.mu.Unlock()
	if delay <= l.delayLocked(origin) {
		return
	}
	l.delays[origin] = delay
	if limiter, ok := l.limiters[origin]; ok {
		limiter.SetLimit(limitFor(delay))
	}
}

// Delay reports the effective spacing for the origin of rawURL.
func (l *Limiter) Delay(rawURL string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.delayLocked(originOf(rawURL))
}

func (l *Limiter) delayLocked(origin string) time.Duration {
	if d, ok := l.delays[origin]; ok && d > l.defaultDelay {
		return d
	}
	return l.defaultDelay
}

// Wait blocks until a request to the origin of rawURL may proceed.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	origin := originOf(rawURL)
	l.mu.Lock()
	limiter, exists := l.limiters[origin]
	if !exists {
		limiter = rate.NewLimiter(limitFor(l.delayLocked(origin)), 1)
		l.limiters[origin] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObservePacerDelay(waited)
	}
	return nil
}
