package resilience

import (
	"errors"
	"sync"
	"time"
)

// RateLimitError is a load-shedding response from a remote endpoint.
type RateLimitError struct {
	Endpoint string
	Message  string
}

func (e RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "rate limit"
}

// IsRateLimit reports whether err is (or wraps) a RateLimitError.
func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

// CircuitBreaker sheds calls after consecutive rate limit responses. The
// relay is a shared side channel; hammering an endpoint that is already
// shedding load only extends the penalty window. Only rate limits count
// toward opening; other failures are the retry policy's problem.
type CircuitBreaker struct {
	mu          sync.Mutex
	consecutive int
	threshold   int
	openUntil   time.Time
	cooldown    time.Duration
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a call may proceed. Once the cooldown elapses the
// breaker closes again with a clean slate.
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openUntil.IsZero() {
		return true
	}
	if time.Now().Before(c.openUntil) {
		return false
	}
	c.openUntil = time.Time{}
	c.consecutive = 0
	return true
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	c.consecutive = 0
	c.openUntil = time.Time{}
	c.mu.Unlock()
}

func (c *CircuitBreaker) OnError(err error) {
	if !IsRateLimit(err) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutive++
	if c.consecutive >= c.threshold {
		c.openUntil = time.Now().Add(c.cooldown)
	}
}
