package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestDoRetriesTransientFailures(t *testing.T) {
	p := NewRetryPolicy(3, time.Millisecond)
	calls := 0
	err := p.Do(func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	p := NewRetryPolicy(5, time.Millisecond)
	calls := 0
	base := errors.New("bad request")
	err := p.Do(func() error {
		calls++
		return Permanent(base)
	})
	if calls != 1 {
		t.Fatalf("permanent errors must not be retried, got %d calls", calls)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected unwrapped permanent error, got %v", err)
	}
}

func TestCircuitBreakerOpensOnRateLimits(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	if !cb.Allow() {
		t.Fatalf("breaker must start closed")
	}
	cb.OnError(RateLimitError{Endpoint: "relay"})
	if !cb.Allow() {
		t.Fatalf("one failure below threshold must not open")
	}
	cb.OnError(RateLimitError{Endpoint: "relay"})
	if cb.Allow() {
		t.Fatalf("breaker must open at threshold")
	}
	cb.OnSuccess()
	if !cb.Allow() {
		t.Fatalf("success must reset the breaker")
	}
}

func TestBreakerClosesCleanAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker(2, 20*time.Millisecond)
	cb.OnError(RateLimitError{Endpoint: "relay"})
	cb.OnError(RateLimitError{Endpoint: "relay"})
	if cb.Allow() {
		t.Fatalf("breaker must be open at threshold")
	}
	time.Sleep(30 * time.Millisecond)
	if !cb.Allow() {
		t.Fatalf("breaker must close once the cooldown elapses")
	}
	cb.OnError(RateLimitError{Endpoint: "relay"})
	if !cb.Allow() {
		t.Fatalf("a single failure after reset must stay below threshold")
	}
}

func TestBreakerIgnoresOtherErrors(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	cb.OnError(errors.New("boom"))
	if !cb.Allow() {
		t.Fatalf("non-rate-limit errors must not trip the breaker")
	}
}
