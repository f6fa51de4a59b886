// Package clock supplies the logical time used for every period and expiry
// computation. Time is expressed in Unix seconds.
package clock

import (
	"fmt"
	"sync"
	"time"
)

// Clock returns the current logical time.
type Clock interface {
	Now() int64
}

// System reads the wall clock.
type System struct{}

// Now implements Clock.
func (System) Now() int64 { return time.Now().Unix() }

// Manual is a settable clock for tests and simulations. It never moves
// backwards.
type Manual struct {
	mu  sync.Mutex
	now int64
}

// NewManual returns a Manual clock positioned at t. The ledger refuses to
// open agreements while the clock reads 0 or less.
func NewManual(t int64) *Manual {
	return &Manual{now: t}
}

// Now implements Clock.
func (m *Manual) Now() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t. It fails if t is earlier than the current time.
func (m *Manual) Set(t int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t < m.now {
		return fmt.Errorf("clock cannot move backwards: %d < %d", t, m.now)
	}
	m.now = t
	return nil
}

// Advance moves the clock forward by d, truncated to whole seconds.
func (m *Manual) Advance(d time.Duration) {
	if d < 0 {
		return
	}
	m.mu.Lock()
	m.now += int64(d / time.Second)
	m.mu.Unlock()
}
