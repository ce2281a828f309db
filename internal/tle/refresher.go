package tle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/star/gnsseph/internal/ephstore"
	"github.com/star/gnsseph/internal/metrics"
	"github.com/star/gnsseph/internal/orbit"
)

// ErrNoEntries is returned when a download or cache file holds no usable element sets.
var ErrNoEntries = errors.New("no TLE entries")

// Sink receives the records produced by a refresh.
type Sink interface {
	IngestBatch(recs []orbit.Record) ephstore.BatchResult
}

// RefresherConfig controls fetch retries and the periodic refresh.
type RefresherConfig struct {
	// Interval between scheduled refreshes; zero disables the loop in Run.
	Interval time.Duration
	// Fit is the validity half-width given to each element set.
	Fit time.Duration
	// MaxRetries bounds the attempts after the first failed fetch.
	MaxRetries uint64
	// InitialBackoff is the first retry delay.
	InitialBackoff time.Duration
}

// Refresher downloads element sets, keeps a copy on disk and feeds the
// resulting records to a Sink.
type Refresher struct {
	fetcher *Fetcher
	cache   *Cache
	sink    Sink
	cfg     RefresherConfig
	logger  *slog.Logger

	fetchMu sync.Mutex // serializes refreshes

	mu   sync.RWMutex
	meta Metadata
	have bool
}

// NewRefresher wires a fetcher and cache to a sink. cache may be nil.
func NewRefresher(fetcher *Fetcher, cache *Cache, sink Sink, cfg RefresherConfig, logger *slog.Logger) *Refresher {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	return &Refresher{
		fetcher: fetcher,
		cache:   cache,
		sink:    sink,
		cfg:     cfg,
		logger:  logger,
	}
}

// Metadata returns the description of the last load and whether one happened.
func (r *Refresher) Metadata() (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.meta, r.have
}

// LoadCached ingests the newest cache file, if any.
func (r *Refresher) LoadCached() (Metadata, error) {
	if r.cache == nil {
		return Metadata{}, fmt.Errorf("no TLE cache configured")
	}
	data, ts, err := r.cache.LoadLatest()
	if err != nil {
		return Metadata{}, err
	}
	return r.load(data, "cache", ts)
}

// Refresh fetches, caches and ingests one round of element sets. Fetch
// failures are retried with exponential backoff; concurrent calls queue.
func (r *Refresher) Refresh(ctx context.Context) (Metadata, error) {
	r.fetchMu.Lock()
	defer r.fetchMu.Unlock()

	data, err := r.fetchWithRetry(ctx)
	if err != nil {
		metrics.RecordTLERefresh(false, time.Time{})
		return Metadata{}, err
	}

	now := time.Now().UTC()
	if r.cache != nil {
		if err := r.cache.Write(data, now); err != nil {
			r.logger.Warn("failed to write TLE cache", "error", err)
		}
	}

	meta, err := r.load(data, r.fetcher.SourceURL(), now)
	metrics.RecordTLERefresh(err == nil, now)
	return meta, err
}

func (r *Refresher) fetchWithRetry(ctx context.Context) ([]byte, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.cfg.InitialBackoff
	exp.MaxInterval = 60 * time.Second
	exp.MaxElapsedTime = 15 * time.Minute

	var b backoff.BackOff = exp
	if r.cfg.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, r.cfg.MaxRetries)
	}
	b = backoff.WithContext(b, ctx)

	var data []byte
	op := func() error {
		var err error
		data, err = r.fetcher.Fetch(ctx)
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("TLE fetch failed, retrying", "error", err, "retry_in_ms", wait.Milliseconds())
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, fmt.Errorf("fetching TLE data: %w", err)
	}
	return data, nil
}

func (r *Refresher) load(data []byte, source string, at time.Time) (Metadata, error) {
	entries, err := Parse(bytes.NewReader(data), r.logger)
	if err != nil {
		return Metadata{}, err
	}
	if len(entries) == 0 {
		return Metadata{}, fmt.Errorf("%s: %w", source, ErrNoEntries)
	}

	recs := ToRecords(entries, r.cfg.Fit, r.logger)
	br := r.sink.IngestBatch(recs)

	meta := Metadata{
		Source:     source,
		FetchedAt:  at,
		EpochRange: Epochs(entries),
		Entries:    len(entries),
		Inserted:   br.Inserted,
		Replaced:   br.Replaced,
		Duplicates: br.Duplicates,
		Rejected:   len(entries) - len(recs) + len(br.Errors),
	}

	r.mu.Lock()
	r.meta, r.have = meta, true
	r.mu.Unlock()

	r.logger.Info("loaded TLE data",
		"source", source,
		"count", len(entries),
		"inserted", br.Inserted,
		"fetched_at", at.Format(time.RFC3339),
	)
	return meta, nil
}

// Run refreshes every Interval until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	if r.cfg.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("scheduled TLE refresh failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
