// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCacheSetGet(t *testing.T) {
	c := New(time.Minute)

	c.Set("key1", "value1")
	got, ok := c.Get("key1")
	if !ok {
		t.Fatal("expected hit for key1")
	}
	if got.(string) != "value1" {
		t.Errorf("Get = %v, want value1", got)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestCacheExpiration(t *testing.T) {
	c := New(time.Minute)

	c.SetWithTTL("short", "v", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("short"); ok {
		t.Error("expired entry returned")
	}

	stats := c.GetStats()
	if stats.Evictions == 0 {
		t.Error("expired read did not count as eviction")
	}
}

func TestCacheDeleteAndClear(t *testing.T) {
	c := New(time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("deleted entry still present")
	}

	c.Clear()
	if _, ok := c.Get("b"); ok {
		t.Error("entry survived Clear")
	}
	if c.GetStats().TotalKeys != 0 {
		t.Error("TotalKeys not reset by Clear")
	}
}

func TestCacheHitRate(t *testing.T) {
	c := New(time.Minute)

	c.Set("k", "v")
	c.Get("k")
	c.Get("k")
	c.Get("miss")

	rate := c.HitRate()
	if rate < 66.0 || rate > 67.0 {
		t.Errorf("HitRate = %.2f, want ~66.67", rate)
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := New(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d-%d", n, j)
				c.Set(key, j)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
}

func TestGenerateKeyDeterministic(t *testing.T) {
	k1 := GenerateKey("source_stats", map[string]string{"source": "203.0.113.5"})
	k2 := GenerateKey("source_stats", map[string]string{"source": "203.0.113.5"})
	k3 := GenerateKey("source_stats", map[string]string{"source": "198.51.100.1"})

	if k1 != k2 {
		t.Error("same params produced different keys")
	}
	if k1 == k3 {
		t.Error("different params produced the same key")
	}
}

func TestDedupCacheBasics(t *testing.T) {
	d := NewDedupCache(100, time.Minute)

	if d.IsDuplicate("a|rule|1|2") {
		t.Error("first sighting reported as duplicate")
	}
	if !d.IsDuplicate("a|rule|1|2") {
		t.Error("second sighting not reported as duplicate")
	}
	if d.IsDuplicate("a|rule|3|4") {
		t.Error("distinct window reported as duplicate")
	}
}

func TestDedupCacheTTLExpiry(t *testing.T) {
	d := NewDedupCache(100, 10*time.Millisecond)

	d.Record("k")
	if !d.Contains("k") {
		t.Fatal("recorded key missing")
	}

	time.Sleep(20 * time.Millisecond)

	if d.Contains("k") {
		t.Error("expired key still contained")
	}
	if d.IsDuplicate("k") {
		t.Error("expired key treated as duplicate")
	}
}

func TestDedupCacheEvictsLRU(t *testing.T) {
	d := NewDedupCache(2, time.Minute)

	d.Record("old")
	d.Record("mid")
	// Touch "old" so "mid" becomes least recently used.
	d.IsDuplicate("old")
	d.Record("new")

	if d.Contains("mid") {
		t.Error("LRU entry not evicted")
	}
	if !d.Contains("old") || !d.Contains("new") {
		t.Error("recently used entries evicted")
	}
	if d.Len() != 2 {
		t.Errorf("Len = %d, want 2", d.Len())
	}
}

func TestDedupCacheStats(t *testing.T) {
	d := NewDedupCache(10, time.Minute)

	d.IsDuplicate("x")
	d.IsDuplicate("x")

	checks, dups, size := d.Stats()
	if checks != 2 || dups != 1 || size != 1 {
		t.Errorf("Stats = (%d, %d, %d), want (2, 1, 1)", checks, dups, size)
	}
}
