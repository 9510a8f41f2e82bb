package vpn

import (
	"sync"
	"time"
)

// HealthState represents the current health of the link to the daemon.
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
)

// String returns a human-readable representation of the health state.
func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "Healthy"
	case HealthDegraded:
		return "Degraded"
	case HealthUnhealthy:
		return "Unhealthy"
	default:
		return "Unknown"
	}
}

// DegradedThreshold is how many consecutive failures turn a degraded link unhealthy.
const DegradedThreshold = 3

// DaemonHealth is a point-in-time view of the daemon link.
type DaemonHealth struct {
	State             HealthState
	LastConnected     time.Time
	LastSynced        time.Time
	LastFailure       time.Time
	LastError         error
	ConsecutiveFails  int
	ReconnectAttempts int
	// Sessions counts successful connections since the client started.
	Sessions int
}

// HealthTracker records connection and resync outcomes for the daemon link.
// It is safe for concurrent use.
type HealthTracker struct {
	mu     sync.RWMutex
	health DaemonHealth
	now    func() time.Time
}

// NewHealthTracker creates a tracker in the Unknown state.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{now: time.Now}
}

// Get returns a copy of the current health.
func (ht *HealthTracker) Get() DaemonHealth {
	ht.mu.RLock()
	defer ht.mu.RUnlock()
	return ht.health
}

func (ht *HealthTracker) recordConnected() {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	ht.health.LastConnected = ht.now()
	ht.health.ReconnectAttempts = 0
	ht.health.Sessions++
}

func (ht *HealthTracker) recordSynced() {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	ht.health.LastSynced = ht.now()
	ht.health.ConsecutiveFails = 0
	ht.health.LastError = nil
	ht.health.State = HealthHealthy
}

// recordResyncFailure marks a connected but unsynchronized link.
func (ht *HealthTracker) recordResyncFailure(err error) {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	ht.fail(err)
	if ht.health.ConsecutiveFails >= DegradedThreshold {
		ht.health.State = HealthUnhealthy
	} else {
		ht.health.State = HealthDegraded
	}
}

// recordFailure marks the link down. attempt is the reconnect attempt
// that failed, or 0 when an established session ended.
func (ht *HealthTracker) recordFailure(err error, attempt int) {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	ht.fail(err)
	if attempt > 0 {
		ht.health.ReconnectAttempts = attempt
	}
	ht.health.State = HealthUnhealthy
}

func (ht *HealthTracker) fail(err error) {
	ht.health.LastFailure = ht.now()
	ht.health.LastError = err
	ht.health.ConsecutiveFails++
}
