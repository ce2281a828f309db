package cache

import (
	"context"
	"errors"
	"time"

	"github.com/star/gnsseph/internal/metrics"
	"github.com/star/gnsseph/internal/propagation"
)

// Start runs the cache maintenance loop until ctx is cancelled. Each step it
// rebuilds the window if the store changed, otherwise generates the leading
// edge keyframe and evicts expired entries.
func (c *KeyframeCache) Start(ctx context.Context) {
	c.tick(ctx)

	ticker := time.NewTicker(c.step)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("cache generator stopped")
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// tick runs one iteration of the maintenance loop.
func (c *KeyframeCache) tick(ctx context.Context) {
	if c.storeChanged() {
		c.rebuild(ctx)
		return
	}
	c.generateLeadingEdge(ctx)
	c.evictExpired()
}

// generateLeadingEdge generates the keyframe at the leading edge of the window.
func (c *KeyframeCache) generateLeadingEdge(ctx context.Context) {
	target := c.RoundToStep(c.now().Add(c.horizon))
	if c.has(target) {
		return
	}

	start := time.Now()
	kf, err := c.prop.PropagateToTime(ctx, target)
	duration := time.Since(start)

	if err != nil {
		if !errors.Is(err, propagation.ErrNoData) {
			c.logger.Warn("leading edge generation failed",
				"timestamp", target.Format(time.RFC3339),
				"error", err,
			)
			metrics.IncCacheRegenerationErrors()
		}
		return
	}

	c.put(kf)
	metrics.ObserveCacheRegenerationDuration(duration)

	c.logger.Debug("leading edge generated",
		"timestamp", target.Format(time.RFC3339),
		"duration_ms", duration.Milliseconds(),
	)
}
