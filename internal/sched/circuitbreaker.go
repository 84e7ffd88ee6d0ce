package sched

import "time"

// BreakerState is the explicit circuit-breaker state machine (spec §4.F).
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "Closed"
	case BreakerOpen:
		return "Open"
	case BreakerHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// CircuitBreaker trips to Open after N consecutive admission denials or
// deadline misses (a plain count with no time window: failures far apart
// still add up until a success resets the count), cools down to HalfOpen after a reset
// timeout, and returns to Closed on one successful admission (or back to
// Open on a single HalfOpen failure).
type CircuitBreaker struct {
	state            BreakerState
	consecutiveFails int
	tripThreshold    int
	resetTimeout     time.Duration
	openedAtNs       int64
}

// NewCircuitBreaker constructs a closed breaker with the given trip
// threshold and reset timeout.
func NewCircuitBreaker(tripThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:         BreakerClosed,
		tripThreshold: tripThreshold,
		resetTimeout:  resetTimeout,
	}
}

// State returns the current breaker state, resolving an Open->HalfOpen
// transition if the reset timeout has elapsed.
func (c *CircuitBreaker) State(nowNs int64) BreakerState {
	if c.state == BreakerOpen && nowNs-c.openedAtNs >= c.resetTimeout.Nanoseconds() {
		c.state = BreakerHalfOpen
	}
	return c.state
}

// RecordFailure registers an admission denial or deadline miss.
func (c *CircuitBreaker) RecordFailure(nowNs int64) {
	switch c.State(nowNs) {
	case BreakerHalfOpen:
		c.trip(nowNs)
	case BreakerClosed:
		c.consecutiveFails++
		if c.consecutiveFails >= c.tripThreshold {
			c.trip(nowNs)
		}
	case BreakerOpen:
		// already open; nothing to do until the timeout elapses
	}
}

// RecordSuccess registers a successful admission.
func (c *CircuitBreaker) RecordSuccess(nowNs int64) {
	switch c.State(nowNs) {
	case BreakerHalfOpen:
		c.state = BreakerClosed
		c.consecutiveFails = 0
	case BreakerClosed:
		c.consecutiveFails = 0
	case BreakerOpen:
		// a success cannot reach us while Open; State() would have moved
		// us to HalfOpen first once the timeout elapsed.
	}
}

func (c *CircuitBreaker) trip(nowNs int64) {
	c.state = BreakerOpen
	c.openedAtNs = nowNs
	c.consecutiveFails = 0
}
