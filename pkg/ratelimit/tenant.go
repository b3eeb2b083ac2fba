package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// TenantLimiter keeps one token bucket per tenant.
type TenantLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// NewTenantLimiter allows perSecond sustained requests per tenant with the given burst.
// A non-positive perSecond disables limiting.
func NewTenantLimiter(perSecond float64, burst int) *TenantLimiter {
	if burst <= 0 {
		burst = 1
	}

	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}

	return &TenantLimiter{limit: limit, burst: burst, limiters: map[string]*rate.Limiter{}}
}

// Allow reports whether tenantID may proceed now.
func (t *TenantLimiter) Allow(tenantID string) bool {
	t.mu.Lock()

	limiter, ok := t.limiters[tenantID]
	if !ok {
		limiter = rate.NewLimiter(t.limit, t.burst)
		t.limiters[tenantID] = limiter
	}

	t.mu.Unlock()

	return limiter.Allow()
}
