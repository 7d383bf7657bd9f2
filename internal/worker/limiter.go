package worker

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter rate-limits calls per backend. Keys are backend names ("openai",
// "cross-encoder") or URLs, which are reduced to their host.
type Limiter struct {
	limiters     map[string]*rate.Limiter
	mu           sync.RWMutex
	defaultRate  rate.Limit
	defaultBurst int
}

// NewLimiter creates a limiter. A non-positive rate disables limiting.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 5
	}
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}

	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  limit,
		defaultBurst: burst,
	}
}

// Wait blocks until the backend may be called. A nil Limiter never blocks.
func (l *Limiter) Wait(ctx context.Context, backend string) error {
	if l == nil {
		return ctx.Err()
	}
	key, err := backendKey(backend)
	if err != nil {
		return err
	}
	return l.getLimiter(key).Wait(ctx)
}

// Allow reports whether a call may happen now without waiting
func (l *Limiter) Allow(backend string) bool {
	key, err := backendKey(backend)
	if err != nil {
		return false
	}
	return l.getLimiter(key).Allow()
}

func (l *Limiter) getLimiter(key string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[key]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := l.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters[key] = limiter
	return limiter
}

// SetRate overrides the limit for one backend. A non-positive rate lifts it.
func (l *Limiter) SetRate(backend string, requestsPerSecond float64, burst int) error {
	key, err := backendKey(backend)
	if err != nil {
		return fmt.Errorf("rate limit key %q: %w", backend, err)
	}

	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = l.defaultBurst
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters[key] = rate.NewLimiter(limit, burst)
	return nil
}

func backendKey(backend string) (string, error) {
	if !strings.Contains(backend, "://") {
		return backend, nil
	}
	parsed, err := url.Parse(backend)
	if err != nil {
		return "", err
	}
	return parsed.Host, nil
}
