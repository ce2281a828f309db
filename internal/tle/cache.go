package tle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoCache is returned by LoadLatest when the directory holds no snapshot.
var ErrNoCache = errors.New("no cached element sets")

const (
	snapshotPrefix = "elements-"
	snapshotSuffix = ".tle"

	// snapshotLayout sorts lexically in time order.
	snapshotLayout = "20060102T150405Z"

	defaultMaxFiles = 5
)

// Cache keeps the last few fetched element-set bodies on disk so a restart
// can serve data before the first fetch completes.
type Cache struct {
	dir      string
	maxFiles int
}

// NewCache returns a Cache rooted at dir that keeps at most maxFiles
// snapshots (five when maxFiles <= 0).
func NewCache(dir string, maxFiles int) *Cache {
	if maxFiles <= 0 {
		maxFiles = defaultMaxFiles
	}
	return &Cache{dir: dir, maxFiles: maxFiles}
}

// Write stores data as the snapshot taken at ts, then drops the oldest
// snapshots over the limit. The file appears atomically.
func (c *Cache) Write(data []byte, ts time.Time) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, ".partial-*")
	if err != nil {
		return fmt.Errorf("creating cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(c.dir, snapshotName(ts))); err != nil {
		return fmt.Errorf("publishing cache file: %w", err)
	}
	return c.prune()
}

// LoadLatest returns the newest snapshot and the time it was taken.
func (c *Cache) LoadLatest() ([]byte, time.Time, error) {
	snaps, err := c.snapshots()
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(snaps) == 0 {
		return nil, time.Time{}, fmt.Errorf("%s: %w", c.dir, ErrNoCache)
	}
	latest := snaps[len(snaps)-1]
	data, err := os.ReadFile(filepath.Join(c.dir, latest.name))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading cache file: %w", err)
	}
	return data, latest.ts, nil
}

type snapshot struct {
	name string
	ts   time.Time
}

func snapshotName(ts time.Time) string {
	return snapshotPrefix + ts.UTC().Format(snapshotLayout) + snapshotSuffix
}

// snapshots lists the cache oldest first. os.ReadDir sorts by name, which the
// layout makes chronological. A missing directory is an empty cache.
func (c *Cache) snapshots() ([]snapshot, error) {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing cache dir: %w", err)
	}

	var out []snapshot
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotSuffix)
		ts, err := time.Parse(snapshotLayout, stamp)
		if err != nil {
			continue
		}
		out = append(out, snapshot{name: name, ts: ts})
	}
	return out, nil
}

func (c *Cache) prune() error {
	snaps, err := c.snapshots()
	if err != nil {
		return err
	}
	for len(snaps) > c.maxFiles {
		if err := os.Remove(filepath.Join(c.dir, snaps[0].name)); err != nil {
			return fmt.Errorf("pruning %s: %w", snaps[0].name, err)
		}
		snaps = snaps[1:]
	}
	return nil
}
