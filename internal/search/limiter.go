package search

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/screening-cli/internal/resilience"
)

// AdaptiveLimiter is a rate limiter that backs off when the provider
// answers 429 and recovers on success. The rate stays within
// [initial/4, initial].
type AdaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	initial rate.Limit
	min     rate.Limit
	current rate.Limit
}

// NewAdaptiveLimiter creates a limiter starting at rps requests per second.
func NewAdaptiveLimiter(rps float64, burst int) *AdaptiveLimiter {
	if burst < 1 {
		burst = 1
	}
	r := rate.Limit(rps)
	return &AdaptiveLimiter{
		limiter: rate.NewLimiter(r, burst),
		initial: r,
		min:     r / 4,
		current: r,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// Observe adjusts the rate from the outcome of one provider call.
func (a *AdaptiveLimiter) Observe(err error) {
	if err == nil {
		a.onSuccess()
		return
	}
	var te *resilience.TransientError
	if errors.As(err, &te) && te.StatusCode == http.StatusTooManyRequests {
		a.onRateLimit()
	}
}

func (a *AdaptiveLimiter) onSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == a.initial {
		return
	}
	a.current = min(a.current*1.2, a.initial)
	a.limiter.SetLimit(a.current)
}

func (a *AdaptiveLimiter) onRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = max(a.current*0.5, a.min)
	a.limiter.SetLimit(a.current)
	zap.L().Warn("search: provider rate limited, reducing request rate",
		zap.Float64("requests_per_second", float64(a.current)),
	)
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}
