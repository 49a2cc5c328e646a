package breaker

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(clock *fakeClock) *Breaker {
	return New(WithClock(clock.Now))
}

func TestStaysClosedBelowThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newTestBreaker(clock)

	for i := 0; i < DefaultFailureThreshold-1; i++ {
		b.RecordFailure()
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("expected closed after %d failures, got %s", DefaultFailureThreshold-1, got)
	}
	if score := b.HealthScore(); score != 1.0 {
		t.Fatalf("expected health 1.0, got %f", score)
	}
}

func TestTripsAtThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newTestBreaker(clock)

	for i := 0; i < DefaultFailureThreshold; i++ {
		b.RecordFailure()
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("expected open at threshold, got %s", got)
	}
	if b.Allow() {
		t.Fatal("open breaker should not allow calls")
	}
	if score := b.HealthScore(); score != 0.0 {
		t.Fatalf("expected health 0.0, got %f", score)
	}
}

func TestWindowPruningForgetsOldFailures(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newTestBreaker(clock)

	b.RecordFailure()
	b.RecordFailure()
	clock.Advance(DefaultFailureWindow + time.Second)
	b.RecordFailure()

	if got := b.State(); got != StateClosed {
		t.Fatalf("expected closed after window expiry, got %s", got)
	}
}

func TestCooldownTransitionsToHalfOpen(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newTestBreaker(clock)

	for i := 0; i < DefaultFailureThreshold; i++ {
		b.RecordFailure()
	}
	clock.Advance(DefaultCooldown - time.Millisecond)
	if got := b.State(); got != StateOpen {
		t.Fatalf("expected open before cooldown, got %s", got)
	}

	clock.Advance(time.Millisecond)
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("expected half-open after cooldown, got %s", got)
	}
	if score := b.HealthScore(); score != 0.5 {
		t.Fatalf("expected health 0.5, got %f", score)
	}
}

func TestHalfOpenFailureReopensWithFreshClock(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newTestBreaker(clock)

	for i := 0; i < DefaultFailureThreshold; i++ {
		b.RecordFailure()
	}
	clock.Advance(DefaultCooldown)
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", got)
	}

	b.RecordFailure()
	if got := b.State(); got != StateOpen {
		t.Fatalf("expected reopen, got %s", got)
	}

	// The cooldown clock must have reset at the half-open failure.
	clock.Advance(DefaultCooldown - time.Second)
	if got := b.State(); got != StateOpen {
		t.Fatalf("expected still open on reset clock, got %s", got)
	}
	clock.Advance(time.Second)
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("expected half-open after second cooldown, got %s", got)
	}
}

func TestHalfOpenSuccessClosesAndClearsHistory(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newTestBreaker(clock)

	for i := 0; i < DefaultFailureThreshold; i++ {
		b.RecordFailure()
	}
	clock.Advance(DefaultCooldown)
	b.RecordSuccess()

	if got := b.State(); got != StateClosed {
		t.Fatalf("expected closed after half-open success, got %s", got)
	}

	// History cleared: a single new failure must not trip.
	b.RecordFailure()
	if got := b.State(); got != StateClosed {
		t.Fatalf("expected closed after one fresh failure, got %s", got)
	}
}

func TestClosedSuccessDoesNotOffsetFailures(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newTestBreaker(clock)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()

	if got := b.State(); got != StateOpen {
		t.Fatalf("expected open; successes must not offset the count, got %s", got)
	}
}

func TestRegistryReturnsSingletonPerProvider(t *testing.T) {
	reg := NewRegistry(WithFailureThreshold(1))

	a := reg.For("anthropic")
	if a != reg.For("anthropic") {
		t.Fatal("expected the same breaker instance per provider")
	}

	a.RecordFailure()
	if reg.For("openai").State() != StateClosed {
		t.Fatal("breakers must be independent across providers")
	}
	if got := len(reg.Names()); got != 2 {
		t.Fatalf("expected 2 breakers, got %d", got)
	}
}
