// Package breaker isolates persistently failing resources behind a
// per-URL three-state circuit breaker with exponential reopen timeouts.
package breaker

import (
	"sync"
	"time"
)

// State of a single circuit.
type State string

// Circuit states.
const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Default thresholds and timeouts.
const (
	DefaultFailureThreshold = 5
	DefaultInitialTimeout   = time.Hour
	DefaultMaxTimeout       = 24 * time.Hour
)

type circuit struct {
	state       State
	failures    int
	openUntil   time.Time
	lastTimeout time.Duration
}

// Breaker tracks one circuit per resource URL.
type Breaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit

	failureThreshold int
	initialTimeout   time.Duration
	maxTimeout       time.Duration

	// OnOpen, when set, is invoked (outside the lock) each time a circuit
	// transitions from closed to open.
	OnOpen func(resource string)

	now func() time.Time
}

// New returns a Breaker with the given failure threshold and initial open
// timeout. Non-positive arguments fall back to the defaults.
func New(failureThreshold int, initialTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if initialTimeout <= 0 {
		initialTimeout = DefaultInitialTimeout
	}
	return &Breaker{
		circuits:         make(map[string]*circuit),
		failureThreshold: failureThreshold,
		initialTimeout:   initialTimeout,
		maxTimeout:       DefaultMaxTimeout,
		now:              time.Now,
	}
}

// Allow reports whether a request to resource may be issued. An open
// circuit whose timeout has passed flips to half-open and admits exactly
// this request.
func (b *Breaker) Allow(resource string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuit(resource)

	switch c.state {
	case Closed, HalfOpen:
		return true
	case Open:
		if b.now().After(c.openUntil) || b.now().Equal(c.openUntil) {
			c.state = HalfOpen
			return true
		}
		return false
	}
	return false
}

// RecordSuccess closes the circuit and zeroes its failure count.
func (b *Breaker) RecordSuccess(resource string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuit(resource)
	c.state = Closed
	c.failures = 0
	c.openUntil = time.Time{}
	c.lastTimeout = 0
}

// RecordFailure counts a failure. A half-open circuit reopens with double
// the last timeout (capped); a closed circuit opens once the failure
// threshold is reached.
func (b *Breaker) RecordFailure(resource string) {
	b.mu.Lock()
	c := b.circuit(resource)
	c.failures++

	var opened bool
	switch c.state {
	case HalfOpen:
		timeout := c.lastTimeout * 2
		if timeout <= 0 {
			timeout = b.initialTimeout
		}
		if timeout > b.maxTimeout {
			timeout = b.maxTimeout
		}
		c.lastTimeout = timeout
		c.openUntil = b.now().Add(timeout)
		c.state = Open
	case Closed:
		if c.failures >= b.failureThreshold {
			c.state = Open
			c.lastTimeout = b.initialTimeout
			c.openUntil = b.now().Add(b.initialTimeout)
			opened = true
		}
	}
	onOpen := b.OnOpen
	b.mu.Unlock()

	if opened && onOpen != nil {
		onOpen(resource)
	}
}

// State returns the circuit's current state.
func (b *Breaker) State(resource string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.circuit(resource).state
}

// RetryIn returns how long until an open circuit admits a probe; zero for
// closed or half-open circuits.
func (b *Breaker) RetryIn(resource string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuit(resource)
	if c.state != Open {
		return 0
	}
	remaining := c.openUntil.Sub(b.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// circuit returns the entry for resource, creating a closed one.
// Callers must hold b.mu.
func (b *Breaker) circuit(resource string) *circuit {
	c, ok := b.circuits[resource]
	if !ok {
		c = &circuit{state: Closed}
		b.circuits[resource] = c
	}
	return c
}
