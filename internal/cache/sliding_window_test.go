// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

package cache

import (
	"fmt"
	"sort"
	"testing"
	"time"
)

// fakeClock drives window rotation deterministically.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestCounter(window time.Duration, slots int, clk *fakeClock) *SlidingWindowCounter {
	c := NewSlidingWindowCounter(window, slots)
	c.clock = clk.Now
	c.lastTick = clk.Now()
	return c
}

func TestCounterAccumulatesWithinWindow(t *testing.T) {
	clk := newFakeClock()
	c := newTestCounter(time.Minute, 6, clk)

	c.Increment(1)
	clk.Advance(20 * time.Second)
	c.Increment(2)

	if got := c.Count(); got != 3 {
		t.Errorf("Count() = %d, want 3", got)
	}
}

func TestCounterExpiresOldBuckets(t *testing.T) {
	clk := newFakeClock()
	c := newTestCounter(time.Minute, 6, clk)

	c.Increment(5)
	clk.Advance(30 * time.Second)
	c.Increment(1)

	// The first bucket falls out of the window; the second survives.
	clk.Advance(45 * time.Second)
	if got := c.Count(); got != 1 {
		t.Errorf("Count() after partial expiry = %d, want 1", got)
	}

	clk.Advance(2 * time.Minute)
	if got := c.Count(); got != 0 {
		t.Errorf("Count() after full expiry = %d, want 0", got)
	}
}

func TestCounterDefaultsOnBadArguments(t *testing.T) {
	c := NewSlidingWindowCounter(0, 0)
	if len(c.buckets) != 10 {
		t.Errorf("buckets = %d, want 10 default", len(c.buckets))
	}
	if c.span != 30*time.Second {
		t.Errorf("bucket span = %v, want 30s (5m over 10 buckets)", c.span)
	}
}

func newTestStore(window time.Duration, slots, maxKeys int, clk *fakeClock) *SlidingWindowStore {
	s := NewSlidingWindowStore(window, slots, maxKeys)
	s.clock = clk.Now
	return s
}

func TestStoreKeysAreIndependent(t *testing.T) {
	clk := newFakeClock()
	s := newTestStore(time.Minute, 6, 0, clk)

	s.Increment("203.0.113.5")
	s.Increment("203.0.113.5")
	s.Increment("198.51.100.7")

	if got := s.Count("203.0.113.5"); got != 2 {
		t.Errorf("Count(first) = %d, want 2", got)
	}
	if got := s.Count("198.51.100.7"); got != 1 {
		t.Errorf("Count(second) = %d, want 1", got)
	}
	if got := s.Count("unknown"); got != 0 {
		t.Errorf("Count(unknown) = %d, want 0", got)
	}
}

func TestStoreEvictsAtCapacity(t *testing.T) {
	clk := newFakeClock()
	s := newTestStore(time.Minute, 6, 3, clk)

	for i := 0; i < 5; i++ {
		s.Increment(fmt.Sprintf("source-%d", i))
	}

	if got := s.Len(); got != 3 {
		t.Errorf("Len() = %d, want capacity 3", got)
	}
}

func TestCleanupInactiveRemovesDrainedCounters(t *testing.T) {
	clk := newFakeClock()
	s := newTestStore(time.Minute, 6, 0, clk)

	s.Increment("drained")
	clk.Advance(2 * time.Minute)
	s.Increment("active")

	removed := s.CleanupInactive()
	if removed != 1 {
		t.Errorf("CleanupInactive() = %d, want 1", removed)
	}
	if got := s.Len(); got != 1 {
		t.Errorf("Len() = %d after cleanup, want 1", got)
	}
	if got := s.Count("active"); got != 1 {
		t.Errorf("active counter lost: Count = %d", got)
	}
}

func newTestUniqueStore(window time.Duration, slots, maxKeys int, clk *fakeClock) *UniqueValueStore {
	s := NewUniqueValueStore(window, slots, maxKeys)
	s.clock = clk.Now
	return s
}

func TestUniqueValuesDeduplicated(t *testing.T) {
	clk := newFakeClock()
	s := newTestUniqueStore(time.Minute, 6, 0, clk)

	s.Add("203.0.113.5", "/admin")
	s.Add("203.0.113.5", "/admin")
	s.Add("203.0.113.5", "/login")

	if got := s.CountUnique("203.0.113.5"); got != 2 {
		t.Errorf("CountUnique = %d, want 2", got)
	}

	values := s.GetUnique("203.0.113.5")
	sort.Strings(values)
	want := []string{"/admin", "/login"}
	if len(values) != len(want) || values[0] != want[0] || values[1] != want[1] {
		t.Errorf("GetUnique = %v, want %v", values, want)
	}
}

func TestUniqueValuesExpireWithWindow(t *testing.T) {
	clk := newFakeClock()
	s := newTestUniqueStore(time.Minute, 6, 0, clk)

	s.Add("src", "/old")
	clk.Advance(45 * time.Second)
	s.Add("src", "/recent")
	clk.Advance(30 * time.Second)

	values := s.GetUnique("src")
	if len(values) != 1 || values[0] != "/recent" {
		t.Errorf("GetUnique after expiry = %v, want [/recent]", values)
	}
}

func TestUniqueStoreUnknownKey(t *testing.T) {
	clk := newFakeClock()
	s := newTestUniqueStore(time.Minute, 6, 0, clk)

	if got := s.GetUnique("nope"); got != nil {
		t.Errorf("GetUnique(unknown) = %v, want nil", got)
	}
	if got := s.CountUnique("nope"); got != 0 {
		t.Errorf("CountUnique(unknown) = %d, want 0", got)
	}
}
