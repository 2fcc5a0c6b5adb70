// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

package cache

import (
	"container/list"
	"sync"
	"time"
)

// DedupCache is a bounded exact-match LRU used for duplicate suppression.
// It has zero false positives: IsDuplicate returns true only when the key was
// recorded within the TTL window. When the cache is full, the least recently
// used key is evicted in O(1).
//
// The correlation engine keys entries on the matched event window, so a rule
// match fires exactly once per window even while the events that produced it
// remain in the buffer.
type DedupCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List               // front = most recently used
	items    map[string]*list.Element // key -> element in order

	checks     int64
	duplicates int64
}

type dedupEntry struct {
	key     string
	addedAt time.Time
}

// NewDedupCache creates a deduplication cache with the given capacity and TTL.
func NewDedupCache(capacity int, ttl time.Duration) *DedupCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &DedupCache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// IsDuplicate reports whether key was seen within the TTL window.
// If not a duplicate, the key is recorded for future checks.
func (d *DedupCache) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.checks++

	if elem, ok := d.items[key]; ok {
		entry := elem.Value.(*dedupEntry)
		if d.ttl <= 0 || time.Since(entry.addedAt) < d.ttl {
			d.order.MoveToFront(elem)
			d.duplicates++
			return true
		}
		// Expired: refresh in place.
		entry.addedAt = time.Now()
		d.order.MoveToFront(elem)
		return false
	}

	d.add(key)
	return false
}

// Record records a key as seen without checking for duplicates.
func (d *DedupCache) Record(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if elem, ok := d.items[key]; ok {
		elem.Value.(*dedupEntry).addedAt = time.Now()
		d.order.MoveToFront(elem)
		return
	}
	d.add(key)
}

// Contains checks whether key is present and unexpired without modifying
// recency or recording the key.
func (d *DedupCache) Contains(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	elem, ok := d.items[key]
	if !ok {
		return false
	}
	entry := elem.Value.(*dedupEntry)
	return d.ttl <= 0 || time.Since(entry.addedAt) < d.ttl
}

// CleanupExpired removes expired entries. Returns the number removed.
func (d *DedupCache) CleanupExpired() int {
	if d.ttl <= 0 {
		return 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for elem := d.order.Back(); elem != nil; {
		prev := elem.Prev()
		entry := elem.Value.(*dedupEntry)
		if time.Since(entry.addedAt) >= d.ttl {
			d.order.Remove(elem)
			delete(d.items, entry.key)
			removed++
		}
		elem = prev
	}
	return removed
}

// Clear removes all entries and resets statistics.
func (d *DedupCache) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.order.Init()
	d.items = make(map[string]*list.Element, d.capacity)
	d.checks = 0
	d.duplicates = 0
}

// Len returns the current number of entries.
func (d *DedupCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

// Stats returns (checks, duplicates, size).
func (d *DedupCache) Stats() (checks, duplicates int64, size int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.checks, d.duplicates, len(d.items)
}

// add inserts a new key, evicting the LRU entry at capacity.
// Must be called with the lock held.
func (d *DedupCache) add(key string) {
	if len(d.items) >= d.capacity {
		if oldest := d.order.Back(); oldest != nil {
			entry := oldest.Value.(*dedupEntry)
			d.order.Remove(oldest)
			delete(d.items, entry.key)
		}
	}
	elem := d.order.PushFront(&dedupEntry{key: key, addedAt: time.Now()})
	d.items[key] = elem
}
