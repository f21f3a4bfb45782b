package usage

import (
	"sync"
	"testing"
)

func TestSnapshotEmpty(t *testing.T) {
	c := NewCollector()

	snap := c.Snapshot()
	if snap.TotalRequests != 0 {
		t.Fatalf("expected zero total, got %d", snap.TotalRequests)
	}
	if snap.ReuseRate != 0 {
		t.Fatalf("reuse rate must be 0 when no requests, got %v", snap.ReuseRate)
	}
}

func TestSnapshotReuseRate(t *testing.T) {
	c := NewCollector()

	// 3 requests: one cache hit, one store hit, one fallback.
	for i := 0; i < 3; i++ {
		c.IncTotal()
	}
	c.IncCacheHit()
	c.IncStoreHit()
	c.IncFallback()

	snap := c.Snapshot()
	if snap.TotalRequests != 3 || snap.CacheHits != 1 || snap.StoreHits != 1 || snap.FallbackCount != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}

	// 2/3 rounded to two decimals.
	if snap.ReuseRate != 0.67 {
		t.Fatalf("expected reuse rate 0.67, got %v", snap.ReuseRate)
	}
}

func TestSnapshotRounding(t *testing.T) {
	c := NewCollector()

	// 1 hit out of 8 requests = 0.125 → 0.13.
	for i := 0; i < 8; i++ {
		c.IncTotal()
	}
	c.IncCacheHit()

	if got := c.Snapshot().ReuseRate; got != 0.13 {
		t.Fatalf("expected 0.13, got %v", got)
	}
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncTotal()
			c.IncCacheHit()
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	if snap.TotalRequests != 50 || snap.CacheHits != 50 {
		t.Fatalf("lost increments: %+v", snap)
	}
	if snap.ReuseRate != 1.0 {
		t.Fatalf("expected reuse rate 1.0, got %v", snap.ReuseRate)
	}
}
