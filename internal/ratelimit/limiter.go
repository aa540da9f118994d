// Package ratelimit provides a per-token token-bucket limiter shared by
// both transports. It wraps golang.org/x/time/rate the same way the rest
// of the ecosystem does: one *rate.Limiter per principal, created lazily
// and reused for the life of the process.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/cryptolab/rune-vault/internal/vaulterr"
)

// Config configures the token bucket applied per bearer token.
type Config struct {
	PerSecond float64
	Burst     int
}

// PerTokenLimiter rate-limits requests keyed by the already-authorized
// bearer token. A limiter is allocated the first time a given token is
// seen and kept for the process lifetime; the allow-list is small and
// bounded, so this never grows unbounded.
type PerTokenLimiter struct {
	cfg Config

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a PerTokenLimiter from the configured rate and burst.
func New(cfg Config) *PerTokenLimiter {
	if cfg.PerSecond <= 0 {
		cfg.PerSecond = 50
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.PerSecond * 2)
	}
	return &PerTokenLimiter{
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (p *PerTokenLimiter) limiterFor(token string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[token]
	if !ok {
		l = rate.NewLimiter(rate.Limit(p.cfg.PerSecond), p.cfg.Burst)
		p.limiters[token] = l
	}
	return l
}

// Allow reports whether a request for token may proceed, consuming one
// token from that principal's bucket if so. It returns vaulterr.RateLimited
// rather than a bool so callers can return it straight to the transport
// layer's error-mapping path.
func (p *PerTokenLimiter) Allow(token string) error {
	if !p.limiterFor(token).Allow() {
		return &vaulterr.RateLimited{}
	}
	return nil
}
