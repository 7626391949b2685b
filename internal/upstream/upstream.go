package upstream

import (
	"net"
	"strconv"
	"sync"
	"time"
)

const ewmaAlpha = 0.2

// Upstream represents the proxy target with health status, session tracking
// and session duration monitoring.
type Upstream struct {
	host           string
	port           int
	mutex          sync.Mutex
	isHealthy      bool
	activeSessions int
	totalSessions  int64
	ewmaSession    time.Duration
	hasEWMA        bool
}

// New creates an Upstream for host:port. It starts out healthy so that the
// first connections are attempted before any probe has run.
func New(host string, port int) *Upstream {
	return &Upstream{
		host:      host,
		port:      port,
		isHealthy: true,
	}
}

// Host returns the configured hostname, unresolved.
func (u *Upstream) Host() string {
	return u.host
}

// Port returns the configured port.
func (u *Upstream) Port() int {
	return u.port
}

// Address returns host:port.
func (u *Upstream) Address() string {
	return net.JoinHostPort(u.host, strconv.Itoa(u.port))
}

// IsHealthy returns true if the last probe succeeded.
func (u *Upstream) IsHealthy() bool {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return u.isHealthy
}

// SetHealthy updates the health status.
// Returns true if the status changed, false if it was already in that state.
func (u *Upstream) SetHealthy(healthy bool) (changed bool) {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if u.isHealthy == healthy {
		return false
	}

	u.isHealthy = healthy
	return true
}

// IncrementSessions records a newly established relay session.
func (u *Upstream) IncrementSessions() {
	u.mutex.Lock()
	u.activeSessions++
	u.totalSessions++
	u.mutex.Unlock()
}

// DecrementSessions records a finished relay session.
func (u *Upstream) DecrementSessions() {
	u.mutex.Lock()
	if u.activeSessions > 0 {
		u.activeSessions--
	}
	u.mutex.Unlock()
}

// ActiveSessions returns the number of open relay sessions.
func (u *Upstream) ActiveSessions() int {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return u.activeSessions
}

// TotalSessions returns the number of sessions ever established.
func (u *Upstream) TotalSessions() int64 {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return u.totalSessions
}

// RecordSession folds the duration of a finished session into the
// exponentially weighted moving average.
func (u *Upstream) RecordSession(duration time.Duration) {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if !u.hasEWMA {
		u.ewmaSession = duration
		u.hasEWMA = true
		return
	}
	//ewma = (1 - α) * ewma + α * latest
	u.ewmaSession = time.Duration((1-ewmaAlpha)*float64(u.ewmaSession) + ewmaAlpha*float64(duration))
}

// EWMASession returns the moving average session duration, 0 before the
// first session finishes.
func (u *Upstream) EWMASession() time.Duration {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if !u.hasEWMA {
		return 0
	}

	return u.ewmaSession
}
