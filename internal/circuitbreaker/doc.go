// Package circuitbreaker stops the proxy from dialing an upstream that keeps
// refusing connections.
//
// The breaker has three states:
//
//   - CLOSED: dials proceed normally
//   - OPEN: dials are refused and the client gets a 502 immediately
//   - HALF-OPEN: one trial dial is let through to see if the upstream is back
//
// Usage:
//
//	cb := circuitbreaker.NewCircuitBreaker(5, 30*time.Second)
//	if !cb.Allow() {
//	    return circuitbreaker.ErrOpen
//	}
//	conn, err := dial()
//	if err != nil {
//	    cb.RecordFailure()
//	} else {
//	    cb.RecordSuccess()
//	}
package circuitbreaker
