package marketclient

import (
	"context"
	"errors"
	"net"
	"time"
)

// Clock provides current time, injected so timing-sensitive code (the bid
// window watchdog, credential expiry checks) can be driven deterministically
// in tests. Ported from the teacher's internal/bidders/commons.go Clock.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock is the production Clock.
var RealClock Clock = realClock{}

// IsTransient classifies an error as eligible for retry: network timeouts,
// context deadline/cancellation, or an UpstreamError explicitly flagged
// transient (429/5xx per SPEC_FULL §7). Unlike the teacher's commons.go,
// this never does substring matching on error text — SPEC_FULL §9 Open
// Question 1 explicitly calls out the original's fragile
// error_str.contains("5") heuristic as something to replace with
// structured error kinds.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// CircuitBreaker is a small in-memory breaker guarding MarketClient calls,
// ported near-verbatim from internal/bidders/commons.go. There is exactly
// one external collaborator in this domain (eBay), so a single breaker
// instance covers it — the teacher's per-adapter map-keyed variant in
// internal/timeout/manager.go is not needed here (see DESIGN.md).
type CircuitBreaker struct {
	threshold int
	openFor   time.Duration
	clock     Clock

	failCount int
	openUntil time.Time
}

// NewCircuitBreaker constructs a breaker using the real system clock.
func NewCircuitBreaker(threshold int, openFor time.Duration) *CircuitBreaker {
	return NewCircuitBreakerWithClock(threshold, openFor, RealClock)
}

// NewCircuitBreakerWithClock allows injecting a custom clock for tests.
func NewCircuitBreakerWithClock(threshold int, openFor time.Duration, clk Clock) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	if clk == nil {
		clk = RealClock
	}
	return &CircuitBreaker{threshold: threshold, openFor: openFor, clock: clk}
}

// Allow returns false if the breaker is open.
func (c *CircuitBreaker) Allow() bool {
	return !c.clock.Now().Before(c.openUntil)
}

// OnFailure records a failure and opens the breaker when threshold is reached.
func (c *CircuitBreaker) OnFailure() {
	c.failCount++
	if c.failCount >= c.threshold {
		c.openUntil = c.clock.Now().Add(c.openFor)
		c.failCount = 0
	}
}

// OnSuccess resets failure counters and closes the breaker.
func (c *CircuitBreaker) OnSuccess() {
	c.failCount = 0
	c.openUntil = time.Time{}
}

// BidRetryDelays is the fixed interleaved delay sequence from SPEC_FULL
// §4.4: up to 4 attempts total, with these delays between them.
var BidRetryDelays = []time.Duration{100 * time.Millisecond, 250 * time.Millisecond, 500 * time.Millisecond}

const MaxBidAttempts = 4

// maskKey masks sensitive keys for safe logging (keeps first 4 and last 2 chars).
func maskKey(key string) string {
	if len(key) <= 6 {
		return key
	}
	return key[:4] + "..." + key[len(key)-2:]
}
