package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

var _ RateLimiter = (*LocalRateLimiter)(nil)

// LocalRateLimiter is an in-process token bucket per key.
type LocalRateLimiter struct {
	perSec float64
	burst  int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewLocalRateLimiter(perSec float64) (*LocalRateLimiter, error) {
	if perSec <= 0 {
		return nil, fmt.Errorf("rate must be positive, got %v", perSec)
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return &LocalRateLimiter{
		perSec:   perSec,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

func (l *LocalRateLimiter) Wait(ctx context.Context, key string) error {
	limiter, err := l.limiterFor(key)
	if err != nil {
		return err
	}
	return limiter.Wait(ctx)
}

func (l *LocalRateLimiter) limiterFor(key string) (*rate.Limiter, error) {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return nil, fmt.Errorf("rate limit key is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[normalized]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.perSec), l.burst)
		l.limiters[normalized] = limiter
	}
	return limiter, nil
}
