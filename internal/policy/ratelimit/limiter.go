// Package ratelimit paces continuation requests with a per-host token bucket
// or a fixed delay.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
	"github.com/Sbajrac2/Reddit-explorer/internal/metrics"
)

// Pacing modes accepted by NewPacer.
const (
	ModeFixed       = "fixed"
	ModeTokenBucket = "token_bucket"
	ModeNone        = "none"
)

// Limiter manages per-host token buckets.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter. A non-positive rate disables waiting.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until a token is available for the URL's host. A host's bucket
// starts empty: Wait only runs before continuation requests, and the page
// that preceded the first one already spent the host's allowance.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	l.mu.Lock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		limiter.AllowN(time.Now(), l.defaultBurst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Immediate grants are not delays.
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObservePacingDelay(host, waited)
	}
	return nil
}

// FixedDelay sleeps for the same interval before every call.
type FixedDelay struct {
	delay time.Duration
}

// NewFixedDelay constructs a FixedDelay pacer.
func NewFixedDelay(delay time.Duration) *FixedDelay {
	return &FixedDelay{delay: delay}
}

// Wait sleeps for the configured delay or until ctx is done.
func (f *FixedDelay) Wait(ctx context.Context, rawURL string) error {
	if f.delay <= 0 {
		return nil
	}
	timer := time.NewTimer(f.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pacing wait: %w", ctx.Err())
	case <-timer.C:
	}
	metrics.ObservePacingDelay(hostOf(rawURL), f.delay)
	return nil
}

// None never waits.
type None struct{}

// Wait returns ctx.Err() without blocking.
func (None) Wait(ctx context.Context, _ string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("pacing wait: %w", err)
	}
	return nil
}

// NewPacer builds the pacer for mode. The token bucket refills one token per
// delay, so both modes space continuation requests by roughly delay.
func NewPacer(mode string, delay time.Duration, burst int) (crawler.Pacer, error) {
	switch mode {
	case ModeFixed, "":
		return NewFixedDelay(delay), nil
	case ModeTokenBucket:
		rps := 0.0
		if delay > 0 {
			rps = float64(time.Second) / float64(delay)
		}
		return New(Config{DefaultRPS: rps, DefaultBurst: burst}), nil
	case ModeNone:
		return None{}, nil
	default:
		return nil, fmt.Errorf("unknown pacing mode %q", mode)
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
