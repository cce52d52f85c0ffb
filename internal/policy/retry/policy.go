// Package retry decides whether a failed network call is attempted again.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net/http"
	"time"

	"github.com/JakeFAU/artvee-ingest/internal/artwork"
)

// Config controls the exponential policy.
type Config struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

// DefaultConfig retries three times starting at three seconds.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, BaseDelay: 3 * time.Second, MaxDelay: 30 * time.Second}
}

// ExponentialPolicy implements artwork.RetryPolicy with jittered backoff.
type ExponentialPolicy struct {
	cfg Config
}

// New builds a policy, filling unset fields from DefaultConfig. A negative
// MaxRetries disables retries.
func New(cfg Config) *ExponentialPolicy {
	def := DefaultConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = max(def.MaxDelay, cfg.BaseDelay)
	}
	return &ExponentialPolicy{cfg: cfg}
}

// ShouldRetry reports whether attempt (1-based, already failed) may be
// followed by another. Timeouts, network failures, 408, 429 and 5xx retry.
func (p *ExponentialPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt > p.cfg.MaxRetries {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var fetchErr *artwork.FetchError
	if !errors.As(err, &fetchErr) {
		return false
	}
	switch fetchErr.Kind {
	case artwork.KindTimeout, artwork.KindNetworkFailure:
		return true
	case artwork.KindHTTPStatus:
		code := fetchErr.StatusCode
		return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
	default:
		return false
	}
}

// Backoff returns the wait before the attempt following attempt.
func (p *ExponentialPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.cfg.MaxDelay) {
		delay = float64(p.cfg.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
