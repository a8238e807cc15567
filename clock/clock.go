package clock

import (
	"sync"
	"time"
)

// SyncStatus reports whether the clock has a trusted reading.
type SyncStatus string

const (
	StatusWaiting SyncStatus = "waiting"
	StatusSynced  SyncStatus = "synced"
	StatusFailed  SyncStatus = "failed"
	StatusUnknown SyncStatus = "unknown"
)

// Source supplies current time plus the trust status of that reading.
type Source interface {
	Now() time.Time
	Status() SyncStatus
}

// Clock is a tamper-resistant time source. After Sync it reports server time
// advanced by the process monotonic clock, so moving the device wall clock
// does not move Now.
type Clock struct {
	mu     sync.RWMutex
	status SyncStatus
	offset time.Duration
}

// New creates a clock in the waiting state.
func New() *Clock {
	return &Clock{status: StatusWaiting}
}

// Sync records a trusted server reading and marks the clock synced.
func (c *Clock) Sync(serverTime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// time.Now carries a monotonic reading; the offset rides on it.
	c.offset = serverTime.Sub(time.Now())
	c.status = StatusSynced
}

// MarkFailed records that time synchronization could not be obtained.
func (c *Clock) MarkFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusSynced {
		c.status = StatusFailed
	}
}

// Now returns the best current-time estimate. Before a sync completes this is
// the device clock.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().Add(c.offset)
}

// Status returns the sync status.
func (c *Clock) Status() SyncStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// System is a Source backed directly by the device clock, always reporting
// synced. Useful for hosts that trust device time and for tests.
type System struct{}

// Now returns the device time.
func (System) Now() time.Time { return time.Now() }

// Status always reports synced.
func (System) Status() SyncStatus { return StatusSynced }
