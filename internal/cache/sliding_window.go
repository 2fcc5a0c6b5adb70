// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

package cache

import (
	"sync"
	"time"
)

// SlidingWindowCounter counts occurrences inside a rolling time window.
// The window is split into a fixed ring of buckets; expired buckets are
// cleared lazily as time advances, so Increment and Count stay O(1) and
// O(buckets) with no background goroutine.
//
// Threshold alert rules use one counter per (rule, source) pair.
type SlidingWindowCounter struct {
	mu       sync.Mutex
	buckets  []int64
	span     time.Duration // duration covered by one bucket
	current  int
	lastTick time.Time
	clock    func() time.Time
}

// NewSlidingWindowCounter creates a counter covering window, divided
// into slots buckets. Non-positive arguments fall back to 5m / 10.
func NewSlidingWindowCounter(window time.Duration, slots int) *SlidingWindowCounter {
	if slots <= 0 {
		slots = 10
	}
	if window <= 0 {
		window = 5 * time.Minute
	}

	c := &SlidingWindowCounter{
		buckets: make([]int64, slots),
		span:    window / time.Duration(slots),
		clock:   time.Now,
	}
	c.lastTick = c.clock()
	return c
}

// Increment adds delta to the current bucket.
func (c *SlidingWindowCounter) Increment(delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rotate()
	c.buckets[c.current] += delta
}

// Count sums every bucket still inside the window.
func (c *SlidingWindowCounter) Count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rotate()

	var total int64
	for _, n := range c.buckets {
		total += n
	}
	return total
}

// rotate clears buckets the window has moved past. Callers hold c.mu.
func (c *SlidingWindowCounter) rotate() {
	now := c.clock()
	elapsed := int(now.Sub(c.lastTick) / c.span)
	if elapsed <= 0 {
		return
	}

	if elapsed >= len(c.buckets) {
		for i := range c.buckets {
			c.buckets[i] = 0
		}
		c.current = 0
	} else {
		for i := 0; i < elapsed; i++ {
			c.current = (c.current + 1) % len(c.buckets)
			c.buckets[c.current] = 0
		}
	}
	c.lastTick = now
}

// SlidingWindowStore keys sliding-window counters by string, typically a
// source address. When maxKeys is exceeded an arbitrary counter is
// evicted; threshold rules tolerate losing a cold source's history.
type SlidingWindowStore struct {
	mu       sync.Mutex
	counters map[string]*SlidingWindowCounter
	window   time.Duration
	slots    int
	maxKeys  int
	clock    func() time.Time
}

// NewSlidingWindowStore creates a keyed counter store. maxKeys of zero
// means unlimited.
func NewSlidingWindowStore(window time.Duration, slots, maxKeys int) *SlidingWindowStore {
	return &SlidingWindowStore{
		counters: make(map[string]*SlidingWindowCounter),
		window:   window,
		slots:    slots,
		maxKeys:  maxKeys,
		clock:    time.Now,
	}
}

// Increment adds one to the key's counter, creating it on first use.
func (s *SlidingWindowStore) Increment(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[key]
	if !ok {
		if s.maxKeys > 0 && len(s.counters) >= s.maxKeys {
			s.evictOne()
		}
		counter = NewSlidingWindowCounter(s.window, s.slots)
		counter.clock = s.clock
		counter.lastTick = s.clock()
		s.counters[key] = counter
	}
	counter.Increment(1)
}

// Count returns the key's in-window count, zero for unknown keys.
func (s *SlidingWindowStore) Count(key string) int64 {
	s.mu.Lock()
	counter, ok := s.counters[key]
	s.mu.Unlock()

	if !ok {
		return 0
	}
	return counter.Count()
}

// Len returns the number of tracked keys.
func (s *SlidingWindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

// CleanupInactive drops counters whose windows have fully drained and
// returns how many were removed.
func (s *SlidingWindowStore) CleanupInactive() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, counter := range s.counters {
		if counter.Count() == 0 {
			delete(s.counters, key)
			removed++
		}
	}
	return removed
}

// evictOne removes an arbitrary counter. Callers hold s.mu.
func (s *SlidingWindowStore) evictOne() {
	for key := range s.counters {
		delete(s.counters, key)
		return
	}
}

// UniqueValueCounter tracks the set of distinct values seen inside a
// rolling window, bucketed the same way as SlidingWindowCounter. Alert
// rules use it to report which resources a source touched.
type UniqueValueCounter struct {
	mu       sync.Mutex
	buckets  []map[string]struct{}
	span     time.Duration
	current  int
	lastTick time.Time
	clock    func() time.Time
}

// NewUniqueValueCounter creates a unique-value counter covering window.
func NewUniqueValueCounter(window time.Duration, slots int) *UniqueValueCounter {
	if slots <= 0 {
		slots = 10
	}
	if window <= 0 {
		window = 5 * time.Minute
	}

	buckets := make([]map[string]struct{}, slots)
	for i := range buckets {
		buckets[i] = make(map[string]struct{})
	}

	c := &UniqueValueCounter{
		buckets: buckets,
		span:    window / time.Duration(slots),
		clock:   time.Now,
	}
	c.lastTick = c.clock()
	return c
}

// Add records a value in the current bucket.
func (c *UniqueValueCounter) Add(value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rotate()
	c.buckets[c.current][value] = struct{}{}
}

// CountUnique returns the number of distinct in-window values.
func (c *UniqueValueCounter) CountUnique() int {
	return len(c.unique())
}

// GetUnique returns the distinct in-window values in arbitrary order.
func (c *UniqueValueCounter) GetUnique() []string {
	merged := c.unique()
	values := make([]string, 0, len(merged))
	for v := range merged {
		values = append(values, v)
	}
	return values
}

func (c *UniqueValueCounter) unique() map[string]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rotate()

	merged := make(map[string]struct{})
	for _, bucket := range c.buckets {
		for v := range bucket {
			merged[v] = struct{}{}
		}
	}
	return merged
}

// rotate resets buckets the window has moved past. Callers hold c.mu.
func (c *UniqueValueCounter) rotate() {
	now := c.clock()
	elapsed := int(now.Sub(c.lastTick) / c.span)
	if elapsed <= 0 {
		return
	}

	if elapsed >= len(c.buckets) {
		for i := range c.buckets {
			c.buckets[i] = make(map[string]struct{})
		}
		c.current = 0
	} else {
		for i := 0; i < elapsed; i++ {
			c.current = (c.current + 1) % len(c.buckets)
			c.buckets[c.current] = make(map[string]struct{})
		}
	}
	c.lastTick = now
}

// UniqueValueStore keys unique-value counters by string, with the same
// capacity policy as SlidingWindowStore.
type UniqueValueStore struct {
	mu       sync.Mutex
	counters map[string]*UniqueValueCounter
	window   time.Duration
	slots    int
	maxKeys  int
	clock    func() time.Time
}

// NewUniqueValueStore creates a keyed unique-value store. maxKeys of
// zero means unlimited.
func NewUniqueValueStore(window time.Duration, slots, maxKeys int) *UniqueValueStore {
	return &UniqueValueStore{
		counters: make(map[string]*UniqueValueCounter),
		window:   window,
		slots:    slots,
		maxKeys:  maxKeys,
		clock:    time.Now,
	}
}

// Add records a value under the key, creating the counter on first use.
func (s *UniqueValueStore) Add(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[key]
	if !ok {
		if s.maxKeys > 0 && len(s.counters) >= s.maxKeys {
			s.evictOne()
		}
		counter = NewUniqueValueCounter(s.window, s.slots)
		counter.clock = s.clock
		counter.lastTick = s.clock()
		s.counters[key] = counter
	}
	counter.Add(value)
}

// CountUnique returns the key's distinct value count, zero when unknown.
func (s *UniqueValueStore) CountUnique(key string) int {
	s.mu.Lock()
	counter, ok := s.counters[key]
	s.mu.Unlock()

	if !ok {
		return 0
	}
	return counter.CountUnique()
}

// GetUnique returns the key's distinct values, nil when unknown.
func (s *UniqueValueStore) GetUnique(key string) []string {
	s.mu.Lock()
	counter, ok := s.counters[key]
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return counter.GetUnique()
}

// Len returns the number of tracked keys.
func (s *UniqueValueStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

// evictOne removes an arbitrary counter. Callers hold s.mu.
func (s *UniqueValueStore) evictOne() {
	for key := range s.counters {
		delete(s.counters, key)
		return
	}
}
