// Package ratelimit paces outbound requests per source host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/artvee-ingest/internal/metrics"
)

// Config holds pacing configuration. Interval, when set, wins over RPS and
// expresses the minimum spacing between two artworks from the same host.
type Config struct {
	Interval time.Duration `mapstructure:"interval"`
	RPS      float64       `mapstructure:"rps"`
	Burst    int           `mapstructure:"burst"`
}

// Limiter manages per-host token buckets.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	now      func() time.Time
}

// New creates a Limiter. A zero config disables pacing.
func New(cfg Config) *Limiter {
	r := rate.Inf
	switch {
	case cfg.Interval > 0:
		r = rate.Every(cfg.Interval)
	case cfg.RPS > 0:
		r = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
		now:      time.Now,
	}
}

// Wait blocks until the host of rawURL may be contacted again.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := l.now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := l.now().Sub(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}
