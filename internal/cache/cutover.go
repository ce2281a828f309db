package cache

import (
	"context"
	"errors"
	"time"

	"github.com/star/gnsseph/internal/metrics"
	"github.com/star/gnsseph/internal/propagation"
)

// storeChanged reports whether the store has changed since the entries were built.
func (c *KeyframeCache) storeChanged() bool {
	return c.builtGen.Load() != c.prop.Generation()
}

// rebuild recomputes the whole [now, now+horizon] window and swaps it in.
// Reads keep hitting the old entries map while the new one is built, but Get
// treats them as misses because the generation no longer matches. A store
// change during the rebuild leaves the cache marked stale, so the next tick
// rebuilds again.
func (c *KeyframeCache) rebuild(ctx context.Context) {
	gen := c.prop.Generation()

	c.rebuilding.Store(true)
	metrics.SetCacheGracePeriodActive(true)
	defer func() {
		c.rebuilding.Store(false)
		metrics.SetCacheGracePeriodActive(false)
	}()

	start := time.Now()
	frames, err := c.prop.GenerateKeyframes(ctx, c.RoundToStep(c.now()))
	switch {
	case ctx.Err() != nil:
		c.logger.Warn("cache rebuild cancelled by context")
		return
	case errors.Is(err, propagation.ErrNoData):
		frames = nil
	case err != nil:
		c.logger.Warn("cache rebuild incomplete", "generated", len(frames), "error", err)
		metrics.IncCacheRegenerationErrors()
	}

	newEntries := make(map[time.Time]*CacheEntry, len(frames))
	for _, kf := range frames {
		newEntries[c.RoundToStep(kf.Timestamp)] = &CacheEntry{Keyframe: kf, GeneratedAt: c.now()}
	}
	c.replaceAll(newEntries, gen)

	duration := time.Since(start)
	c.logger.Info("keyframe cache rebuilt",
		"generation", gen,
		"duration_ms", duration.Milliseconds(),
		"entries", len(newEntries),
	)
	metrics.ObserveCacheRegenerationDuration(duration)
}
