package control

import "time"

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreaker guards the update polling loop. Failures are counted per
// error class; one class reaching Threshold opens the circuit for Cooldown.
// It is not safe for concurrent use.
type CircuitBreaker struct {
	Threshold int
	Cooldown  time.Duration

	state       CircuitState
	failures    map[string]int
	openedAt    time.Time
	openedClass string
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		Threshold: threshold,
		Cooldown:  cooldown,
		state:     CircuitClosed,
		failures:  map[string]int{},
	}
}

func (c *CircuitBreaker) State() CircuitState {
	return c.state
}

// Allow reports whether a poll may be attempted at now. An open circuit
// moves to half-open once the cooldown has elapsed.
func (c *CircuitBreaker) Allow(now time.Time) bool {
	if c.state != CircuitOpen {
		return true
	}
	if now.Sub(c.openedAt) >= c.Cooldown {
		c.state = CircuitHalfOpen
		return true
	}
	return false
}

// Remaining returns how long the circuit stays open, or zero.
func (c *CircuitBreaker) Remaining(now time.Time) time.Duration {
	if c.state != CircuitOpen {
		return 0
	}
	if d := c.Cooldown - now.Sub(c.openedAt); d > 0 {
		return d
	}
	return 0
}

// RecordSuccess resets the breaker. It reports whether the circuit was
// closed by this call.
func (c *CircuitBreaker) RecordSuccess() bool {
	wasTripped := c.state != CircuitClosed
	c.state = CircuitClosed
	c.openedClass = ""
	clear(c.failures)
	return wasTripped
}

// RecordFailure counts an error of class errClass. It reports whether the
// circuit opened as a result.
func (c *CircuitBreaker) RecordFailure(errClass string, now time.Time) bool {
	if errClass == "" {
		errClass = "unknown"
	}
	if c.state == CircuitHalfOpen {
		c.trip(errClass, now)
		return true
	}
	c.failures[errClass]++
	if c.state == CircuitClosed && c.failures[errClass] >= c.Threshold {
		c.trip(errClass, now)
		return true
	}
	return false
}

func (c *CircuitBreaker) trip(errClass string, now time.Time) {
	c.state = CircuitOpen
	c.openedAt = now
	c.openedClass = errClass
}

func (c *CircuitBreaker) OpenedClass() string {
	return c.openedClass
}
