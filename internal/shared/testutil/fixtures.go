package testutil

import (
	"sync"
	"time"

	"keyforge/pkg/contracts/domain"
)

// FixedTime is the reference instant used by clock-dependent tests
var FixedTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// Well-formed keys that satisfy the default grammar
const (
	SampleKey      = "KF_1357-9ACE-FHKM-R135"
	OtherSampleKey = "KF_9753-1RMK-HFEC-A975"
	SampleHWID     = "0A1B-2C3D-4E5F"
)

// FakeClock is a manually advanced clock
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a clock frozen at start
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// KeyAged builds an unused key record created age before now
func KeyAged(key string, now time.Time, age time.Duration) domain.KeyRecord {
	return domain.KeyRecord{Key: key, CreatedAt: now.Add(-age), Used: false}
}
