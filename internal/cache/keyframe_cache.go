// Package cache provides an in-memory keyframe cache with a rolling window.
//
// The cache maintains keyframes for [now, now+horizon] at the propagator's
// step. A background worker generates new keyframes at the leading edge and
// evicts expired entries from the trailing edge. When the store contents
// change, the cache is rebuilt without interrupting reads; until the rebuild
// lands, lookups miss rather than serve stale frames.
package cache

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/star/gnsseph/internal/metrics"
	"github.com/star/gnsseph/internal/propagation"
)

// CacheEntry wraps a keyframe with generation metadata.
type CacheEntry struct {
	Keyframe    *propagation.Keyframe
	GeneratedAt time.Time
}

// KeyframeCache is an in-memory cache of keyframes with a rolling window.
// Safe for concurrent use by multiple goroutines.
type KeyframeCache struct {
	mu      sync.RWMutex
	entries map[time.Time]*CacheEntry

	prop    *propagation.Propagator
	step    time.Duration
	horizon time.Duration
	buffer  time.Duration // keep entries this long past their time
	logger  *slog.Logger
	now     func() time.Time

	// Store generation the entries were computed from.
	builtGen atomic.Uint64

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	rebuilding atomic.Bool
}

// NewKeyframeCache creates a cache over prop's step and horizon.
func NewKeyframeCache(prop *propagation.Propagator, buffer time.Duration, logger *slog.Logger) *KeyframeCache {
	cfg := prop.Config()
	if cfg.Step <= 0 {
		cfg.Step = 5 * time.Second
	}
	logger.Info("cache initialized",
		"step_seconds", cfg.Step.Seconds(),
		"horizon_seconds", cfg.Horizon.Seconds(),
		"buffer_seconds", buffer.Seconds(),
	)

	c := &KeyframeCache{
		entries: make(map[time.Time]*CacheEntry),
		prop:    prop,
		step:    cfg.Step,
		horizon: cfg.Horizon,
		buffer:  buffer,
		logger:  logger,
		now:     time.Now,
	}
	// Force a build on the first tick.
	c.builtGen.Store(prop.Generation() - 1)
	return c
}

// RoundToStep rounds a timestamp down to the nearest step boundary, in UTC.
func (c *KeyframeCache) RoundToStep(t time.Time) time.Time {
	return t.UTC().Truncate(c.step)
}

// Get returns the keyframe for the step containing t, or nil if it is not
// cached or the store changed since it was computed.
func (c *KeyframeCache) Get(t time.Time) *propagation.Keyframe {
	if c.builtGen.Load() != c.prop.Generation() {
		c.miss()
		return nil
	}

	key := c.RoundToStep(t)
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		c.hits.Add(1)
		metrics.IncCacheHits()
		return entry.Keyframe
	}
	c.miss()
	return nil
}

func (c *KeyframeCache) miss() {
	c.misses.Add(1)
	metrics.IncCacheMisses()
}

func (c *KeyframeCache) has(t time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[c.RoundToStep(t)]
	return ok
}

// put stores a keyframe in the cache. Caller must not hold mu.
func (c *KeyframeCache) put(kf *propagation.Keyframe) {
	key := c.RoundToStep(kf.Timestamp)
	entry := &CacheEntry{Keyframe: kf, GeneratedAt: c.now()}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()

	c.updateMetrics()
}

// evictExpired removes entries older than now - buffer.
func (c *KeyframeCache) evictExpired() int {
	cutoff := c.now().Add(-c.buffer)
	var removed int

	c.mu.Lock()
	for ts := range c.entries {
		if ts.Before(cutoff) {
			delete(c.entries, ts)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.evictions.Add(int64(removed))
		metrics.AddCacheEvictions(removed)
		c.updateMetrics()
		c.logger.Debug("cache eviction", "entries_removed", removed)
	}
	return removed
}

// replaceAll atomically replaces all cache entries and records the store
// generation they were computed from.
func (c *KeyframeCache) replaceAll(newEntries map[time.Time]*CacheEntry, gen uint64) {
	c.mu.Lock()
	c.entries = newEntries
	c.builtGen.Store(gen)
	c.mu.Unlock()
	c.updateMetrics()
}

// CacheStats holds cache statistics.
type CacheStats struct {
	Entries         int
	SizeBytes       int64
	OldestTimestamp time.Time
	NewestTimestamp time.Time
	Hits            int64
	Misses          int64
	Evictions       int64
	Rebuilding      bool
}

// Stats returns current cache statistics.
func (c *KeyframeCache) Stats() CacheStats {
	c.mu.RLock()
	count := len(c.entries)
	var oldest, newest time.Time
	for ts := range c.entries {
		if oldest.IsZero() || ts.Before(oldest) {
			oldest = ts
		}
		if newest.IsZero() || ts.After(newest) {
			newest = ts
		}
	}
	c.mu.RUnlock()

	return CacheStats{
		Entries:         count,
		SizeBytes:       c.estimateSizeBytes(),
		OldestTimestamp: oldest,
		NewestTimestamp: newest,
		Hits:            c.hits.Load(),
		Misses:          c.misses.Load(),
		Evictions:       c.evictions.Load(),
		Rebuilding:      c.rebuilding.Load(),
	}
}

// estimateSizeBytes returns a rough estimate of the cache memory footprint.
func (c *KeyframeCache) estimateSizeBytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var total int64
	for _, entry := range c.entries {
		if entry.Keyframe == nil {
			continue
		}
		total += int64(len(entry.Keyframe.Satellites)) * int64(unsafe.Sizeof(propagation.SatelliteState{}))
		total += 48 + 32 // keyframe header and entry
	}
	return total + int64(len(c.entries))*8
}

// updateMetrics publishes current cache size to Prometheus.
func (c *KeyframeCache) updateMetrics() {
	c.mu.RLock()
	count := len(c.entries)
	c.mu.RUnlock()

	metrics.SetCacheEntries(count)
	metrics.SetCacheSizeBytes(c.estimateSizeBytes())
}
