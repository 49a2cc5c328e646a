package provider

import (
	"context"

	"github.com/mirrorlake/steward/pkg/breaker"
	"github.com/mirrorlake/steward/pkg/schema"
	"golang.org/x/time/rate"
)

// Guarded composes a provider with its circuit breaker and an optional
// request limiter. Availability reflects both the backend and the breaker,
// so routing skips providers in a failing state without knowing about
// breakers at all.
type Guarded struct {
	Provider
	breaker *breaker.Breaker
	limiter *rate.Limiter
}

// Guard wraps a provider. requestsPerMinute <= 0 disables rate limiting.
func Guard(p Provider, b *breaker.Breaker, requestsPerMinute float64) *Guarded {
	var limiter *rate.Limiter
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerMinute/60.0), 1)
	}
	return &Guarded{Provider: p, breaker: b, limiter: limiter}
}

// Breaker returns the provider's circuit breaker.
func (g *Guarded) Breaker() *breaker.Breaker {
	return g.breaker
}

// IsAvailable reports availability gated by the circuit breaker.
func (g *Guarded) IsAvailable() bool {
	if g.breaker != nil && !g.breaker.Allow() {
		return false
	}
	return g.Provider.IsAvailable()
}

// Execute waits for a rate-limit token, then opens the underlying stream.
func (g *Guarded) Execute(ctx context.Context, task *schema.TaskContext, prompt string) (*Stream, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return g.Provider.Execute(ctx, task, prompt)
}
