// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package mockable provides the per-ledger clock. Every time gate in the
// governance protocol (voting windows, timelock etas, decay elapsed time)
// reads this clock, so tests can drive a ledger's notion of time without
// sleeping. Two ledgers never share a clock.
package mockable

import (
	"sync"
	"time"
)

// Clock wraps wall time and allows tests to pin or advance it. The zero
// value reads the real wall clock and is safe for concurrent use.
type Clock struct {
	mu    sync.RWMutex
	faked bool
	now   time.Time
}

// Set pins the clock to t. Subsequent reads return t until the next Set,
// Advance, or Sync.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faked = true
	c.now = t
}

// Advance moves a pinned clock forward by d. If the clock is not pinned it
// pins at wall time + d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.faked {
		c.faked = true
		c.now = time.Now()
	}
	c.now = c.now.Add(d)
}

// Sync unpins the clock so it tracks wall time again.
func (c *Clock) Sync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faked = false
}

// Time returns the current time on this clock.
func (c *Clock) Time() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.faked {
		return c.now
	}
	return time.Now()
}

// Unix returns the clock's time as seconds since the epoch, clamped at 0.
// All protocol timepoints are uint64 unix seconds.
func (c *Clock) Unix() uint64 {
	unix := c.Time().Unix()
	if unix < 0 {
		unix = 0
	}
	return uint64(unix)
}
