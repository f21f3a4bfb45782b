// Package usage tracks how often each resolution tier is satisfied.
// The collector is injectable, not a process-wide singleton, so tests
// can instantiate isolated instances.
package usage

import (
	"math"
	"sync/atomic"
)

// Collector owns the four monotonic counters. All increments are atomic;
// nothing depends on counter ordering, they are observational only.
type Collector struct {
	total     atomic.Int64
	cacheHits atomic.Int64
	storeHits atomic.Int64
	fallback  atomic.Int64
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// IncTotal counts one resolution request. Called exactly once per
// request, regardless of which tier terminates it.
func (c *Collector) IncTotal() { c.total.Add(1) }

// IncCacheHit counts an exact-cache hit.
func (c *Collector) IncCacheHit() { c.cacheHits.Add(1) }

// IncStoreHit counts a similarity-tier hit.
func (c *Collector) IncStoreHit() { c.storeHits.Add(1) }

// IncFallback counts a fallback computation.
func (c *Collector) IncFallback() { c.fallback.Add(1) }

// Snapshot is the read-only metrics view exposed for polling.
type Snapshot struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	StoreHits     int64   `json:"store_hits"`
	FallbackCount int64   `json:"fallback_count"`
	ReuseRate     float64 `json:"reuse_rate"`
}

// Snapshot computes the current view. The reuse rate is derived on
// read, never stored: (cache + store hits) / total, 0 when total is 0,
// rounded to two decimals.
func (c *Collector) Snapshot() Snapshot {
	total := c.total.Load()
	cacheHits := c.cacheHits.Load()
	storeHits := c.storeHits.Load()

	var rate float64
	if total > 0 {
		rate = float64(cacheHits+storeHits) / float64(total)
		rate = math.Round(rate*100) / 100
	}

	return Snapshot{
		TotalRequests: total,
		CacheHits:     cacheHits,
		StoreHits:     storeHits,
		FallbackCount: c.fallback.Load(),
		ReuseRate:     rate,
	}
}
