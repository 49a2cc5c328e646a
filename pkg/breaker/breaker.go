// Package breaker implements a per-provider circuit breaker.
package breaker

import (
	"sync"
	"time"
)

// State is the breaker's current position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	// DefaultFailureThreshold trips the breaker after this many failures
	// inside the window.
	DefaultFailureThreshold = 3
	// DefaultFailureWindow bounds how long a failure counts against the
	// threshold.
	DefaultFailureWindow = 60 * time.Second
	// DefaultCooldown is how long an open breaker waits before probing.
	DefaultCooldown = 30 * time.Second
)

// Breaker gates calls to a single provider. Cooldown expiry is evaluated
// lazily on state reads rather than by a timer, so an idle breaker costs
// nothing.
type Breaker struct {
	mu       sync.Mutex
	state    State
	failures []time.Time
	openedAt time.Time

	failureThreshold int
	failureWindow    time.Duration
	cooldown         time.Duration

	now func() time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold overrides the trip threshold.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithFailureWindow overrides the failure-counting window.
func WithFailureWindow(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.failureWindow = d
		}
	}
}

// WithCooldown overrides the open-state cooldown.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a closed breaker with the default parameters.
func New(opts ...Option) *Breaker {
	b := &Breaker{
		state:            StateClosed,
		failureThreshold: DefaultFailureThreshold,
		failureWindow:    DefaultFailureWindow,
		cooldown:         DefaultCooldown,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RecordFailure notes a failed provider call. In the closed state it prunes
// stale failures and trips to open once the surviving count reaches the
// threshold. In half-open it trips straight back to open with a fresh
// cooldown clock.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.stateLocked(now) {
	case StateClosed:
		b.failures = append(b.failures, now)
		b.pruneLocked(now)
		if len(b.failures) >= b.failureThreshold {
			b.state = StateOpen
			b.openedAt = now
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = now
	case StateOpen:
		// Already open; the cooldown clock is set once per open entry.
	}
}

// RecordSuccess notes a successful provider call. In half-open it closes the
// breaker and clears the failure history. In closed it is a no-op: successes
// do not offset a failure count mid-window.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stateLocked(b.now()) == StateHalfOpen {
		b.state = StateClosed
		b.failures = nil
	}
}

// State returns the current state, transitioning open to half-open once the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked(b.now())
}

// Allow reports whether a call should be attempted right now.
func (b *Breaker) Allow() bool {
	return b.State() != StateOpen
}

// HealthScore maps the current state onto a 0..1 health value.
func (b *Breaker) HealthScore() float64 {
	switch b.State() {
	case StateClosed:
		return 1.0
	case StateHalfOpen:
		return 0.5
	default:
		return 0.0
	}
}

func (b *Breaker) stateLocked(now time.Time) State {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.cooldown {
		b.state = StateHalfOpen
	}
	return b.state
}

func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.failureWindow)
	kept := b.failures[:0]
	for _, ts := range b.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.failures = kept
}

// Registry holds one breaker per provider name.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	opts     []Option
}

// NewRegistry creates a registry whose breakers share the given options.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		opts:     opts,
	}
}

// For returns the breaker for a provider, creating it on first use.
func (r *Registry) For(provider string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[provider]
	if !ok {
		b = New(r.opts...)
		r.breakers[provider] = b
	}
	return b
}

// Names returns the providers with a breaker, in no particular order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	return names
}
