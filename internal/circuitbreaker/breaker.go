package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is reported by callers that skipped a dial because Allow said no.
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Refusing dials
	StateHalfOpen              // One trial dial in flight
)

type CircuitBreaker struct {
	mutex            sync.Mutex
	state            State
	failures         int
	lastFailure      time.Time
	trialInFlight    bool
	failureThreshold int
	resetTimeout     time.Duration
	now              func() time.Time
	onStateChange    func(from, to State)
}

func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}

	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: threshold,
		resetTimeout:     timeout,
		now:              time.Now,
	}
}

// OnStateChange registers fn to be called, outside the breaker's lock, on
// every state transition.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.onStateChange = fn
}

// Allow reports whether a dial may be attempted. While HALF-OPEN only the
// first caller gets true until that trial is recorded.
func (cb *CircuitBreaker) Allow() bool {
	cb.mutex.Lock()

	from := cb.state
	allowed := true

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
			allowed = false
			break
		}
		cb.state = StateHalfOpen
		cb.trialInFlight = true
	case StateHalfOpen:
		if cb.trialInFlight {
			allowed = false
			break
		}
		cb.trialInFlight = true
	}

	notify := cb.transitionLocked(from)
	cb.mutex.Unlock()
	notify()

	return allowed
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mutex.Lock()

	from := cb.state
	cb.failures++
	cb.lastFailure = cb.now()
	cb.trialInFlight = false

	if cb.state == StateHalfOpen || cb.failures >= cb.failureThreshold {
		cb.state = StateOpen
	}

	notify := cb.transitionLocked(from)
	cb.mutex.Unlock()
	notify()
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()

	from := cb.state
	cb.failures = 0
	cb.trialInFlight = false
	cb.state = StateClosed

	notify := cb.transitionLocked(from)
	cb.mutex.Unlock()
	notify()
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transitionLocked(from State) func() {
	to := cb.state
	fn := cb.onStateChange
	if from == to || fn == nil {
		return func() {}
	}
	return func() { fn(from, to) }
}

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}
