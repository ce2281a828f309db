package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/star/gnsseph/internal/ephstore"
	"github.com/star/gnsseph/internal/gnss"
	"github.com/star/gnsseph/internal/orbit"
	"github.com/star/gnsseph/internal/propagation"
)

var testToe = time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testPropagator() *propagation.Propagator {
	cfg := propagation.PropConfig{Workers: 2, Step: 5 * time.Second, Horizon: 30 * time.Second}
	return propagation.NewPropagator(ephstore.New(ephstore.Options{OnlyHealthy: true}), cfg, testLogger())
}

func gpsRecord(t *testing.T, prn int, m0 float64) orbit.Record {
	t.Helper()
	rec, err := orbit.NewKeplerRecord(gnss.NewSatID(gnss.SystemGPS, prn), testToe, testToe, time.Time{}, orbit.KeplerElements{
		SqrtA:  5153.65,
		Ecc:    0.0065,
		I0:     0.9622,
		Omega0: -2.1073,
		Omega:  0.6613,
		M0:     m0,
	})
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

// newTestCache returns a cache whose clock is fixed at *now.
func newTestCache(prop *propagation.Propagator, buffer time.Duration, now *time.Time) *KeyframeCache {
	c := NewKeyframeCache(prop, buffer, testLogger())
	c.now = func() time.Time { return *now }
	return c
}

func TestRebuildOnStoreChange(t *testing.T) {
	prop := testPropagator()
	if _, err := prop.Ingest(gpsRecord(t, 5, 1.77)); err != nil {
		t.Fatal(err)
	}
	now := testToe
	c := newTestCache(prop, time.Minute, &now)
	ctx := context.Background()

	if !c.storeChanged() {
		t.Fatal("new cache should be marked stale")
	}
	c.tick(ctx)

	if got := c.Stats().Entries; got != 7 {
		t.Errorf("entries after rebuild = %d, want 7", got)
	}
	kf := c.Get(testToe.Add(7 * time.Second))
	if kf == nil || !kf.Timestamp.Equal(testToe.Add(5*time.Second)) || len(kf.Satellites) != 1 {
		t.Fatalf("Get = %+v, want the 12:00:05 frame with one satellite", kf)
	}

	if _, err := prop.Ingest(gpsRecord(t, 7, 2.5)); err != nil {
		t.Fatal(err)
	}
	if c.Get(testToe) != nil {
		t.Error("cache should miss after the store changed")
	}

	c.tick(ctx)
	kf = c.Get(testToe)
	if kf == nil || len(kf.Satellites) != 2 {
		t.Fatalf("after rebuild Get = %+v, want two satellites", kf)
	}

	stats := c.Stats()
	if stats.Hits != 2 || stats.Misses != 1 || stats.Rebuilding {
		t.Errorf("stats = %+v", stats)
	}
	if stats.SizeBytes <= 0 || !stats.OldestTimestamp.Equal(testToe) || !stats.NewestTimestamp.Equal(testToe.Add(30*time.Second)) {
		t.Errorf("stats window = %+v", stats)
	}
}

func TestLeadingEdgeAndEviction(t *testing.T) {
	prop := testPropagator()
	if _, err := prop.Ingest(gpsRecord(t, 5, 1.77)); err != nil {
		t.Fatal(err)
	}
	now := testToe
	c := newTestCache(prop, 0, &now)
	ctx := context.Background()
	c.tick(ctx)

	now = testToe.Add(10 * time.Second)
	c.tick(ctx)

	if c.Get(testToe.Add(40*time.Second)) == nil {
		t.Error("leading edge frame missing")
	}
	if c.Get(testToe) != nil || c.Get(testToe.Add(5*time.Second)) != nil {
		t.Error("frames before now should be evicted")
	}
	stats := c.Stats()
	if stats.Entries != 6 || stats.Evictions != 2 {
		t.Errorf("stats = %+v, want 6 entries and 2 evictions", stats)
	}
}

func TestEmptyStore(t *testing.T) {
	prop := testPropagator()
	now := testToe
	c := newTestCache(prop, time.Minute, &now)
	c.tick(context.Background())

	if c.storeChanged() {
		t.Error("rebuild of an empty store should still record the generation")
	}
	if c.Stats().Entries != 0 || c.Get(testToe) != nil {
		t.Error("empty store should leave the cache empty")
	}

	// Clear advances the generation even on an empty store.
	prop.Clear()
	if !c.storeChanged() {
		t.Error("Clear should mark the cache stale")
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	prop := testPropagator()
	now := testToe
	c := newTestCache(prop, time.Minute, &now)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
