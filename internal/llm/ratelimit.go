package llm

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

const secondsPerMinute = 60.0

// ProviderLimiter is a token bucket rate limiter keyed by provider.
type ProviderLimiter struct {
	limiters   map[Provider]*rate.Limiter
	mu         sync.Mutex
	ratePerMin map[Provider]int
	defaultRPM int
	burstSize  int
}

// NewProviderLimiter creates a limiter allowing requestsPerMinute calls per
// provider. Zero or negative rates disable limiting.
func NewProviderLimiter(requestsPerMinute, burstSize int) *ProviderLimiter {
	if burstSize < 1 {
		burstSize = 1
	}
	return &ProviderLimiter{
		limiters:   make(map[Provider]*rate.Limiter),
		ratePerMin: make(map[Provider]int),
		defaultRPM: requestsPerMinute,
		burstSize:  burstSize,
	}
}

// SetRate overrides the rate for one provider. It must be called before the
// provider is first used.
func (pl *ProviderLimiter) SetRate(p Provider, requestsPerMinute int) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	pl.ratePerMin[p] = requestsPerMinute
	delete(pl.limiters, p)
}

// limiterFor retrieves or creates the limiter for a provider. A nil
// limiter means the provider is unlimited.
func (pl *ProviderLimiter) limiterFor(p Provider) *rate.Limiter {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if l, exists := pl.limiters[p]; exists {
		return l
	}

	rpm, ok := pl.ratePerMin[p]
	if !ok {
		rpm = pl.defaultRPM
	}

	var limiter *rate.Limiter
	if rpm > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(rpm)/secondsPerMinute), pl.burstSize)
	}
	pl.limiters[p] = limiter
	return limiter
}

// Allow reports whether a call to the provider may proceed now.
func (pl *ProviderLimiter) Allow(p Provider) bool {
	l := pl.limiterFor(p)
	return l == nil || l.Allow()
}

// Wait blocks until a call to the provider may proceed or ctx is done.
func (pl *ProviderLimiter) Wait(ctx context.Context, p Provider) error {
	l := pl.limiterFor(p)
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("wait for %s rate limit: %w", p, err)
	}
	return nil
}
