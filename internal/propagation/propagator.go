// Package propagation wraps the ephemeris store for concurrent use by the
// service and computes keyframes of every satellite's state.
package propagation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/star/gnsseph/internal/ephstore"
	"github.com/star/gnsseph/internal/gnss"
	"github.com/star/gnsseph/internal/metrics"
	"github.com/star/gnsseph/internal/orbit"
)

// ErrNoData is returned by keyframe generation when the store is empty.
var ErrNoData = errors.New("no ephemerides loaded")

// Method selects the lookup algorithm.
type Method string

const (
	MethodUser Method = "user" // real-time receiver lookup
	MethodNear Method = "near" // nearest Toe
	MethodAuto Method = ""     // follow the store key policy
)

// ParseMethod accepts "user", "near" or empty.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodUser, MethodNear, MethodAuto:
		return m, nil
	}
	return MethodAuto, fmt.Errorf("unknown lookup method %q", s)
}

func (m Method) label() string {
	if m == MethodAuto {
		return "auto"
	}
	return string(m)
}

// Propagator serialises access to an ephstore.Store: ingest, edit and clear
// take the write lock, everything else the read lock. Records handed to
// callers are clones.
type Propagator struct {
	mu     sync.RWMutex
	store  *ephstore.Store
	pool   *WorkerPool
	config PropConfig
	logger *slog.Logger

	// gen advances on every change to the store contents.
	gen atomic.Uint64
}

// NewPropagator creates a new propagation orchestrator.
func NewPropagator(store *ephstore.Store, config PropConfig, logger *slog.Logger) *Propagator {
	pool := NewWorkerPool(config.Workers, logger)
	return &Propagator{
		store:  store,
		pool:   pool,
		config: config,
		logger: logger,
	}
}

// Generation returns a counter that advances whenever the store contents
// change. Keyframes computed under an older generation may be stale.
func (p *Propagator) Generation() uint64 {
	return p.gen.Load()
}

// Config returns the propagation configuration.
func (p *Propagator) Config() PropConfig {
	return p.config
}

// Ingest adds one record to the store.
func (p *Propagator) Ingest(r orbit.Record) (ephstore.Result, error) {
	p.mu.Lock()
	res, err := p.store.Add(r)
	if err == nil && res.Stored() {
		p.gen.Add(1)
	}
	p.publishSize()
	p.mu.Unlock()

	p.logIngest(r, res, err)
	return res, err
}

// IngestBatch adds records in order under a single write lock.
func (p *Propagator) IngestBatch(recs []orbit.Record) ephstore.BatchResult {
	p.mu.Lock()
	br := p.store.AddBatch(recs)
	if br.Stored() > 0 {
		p.gen.Add(1)
	}
	p.publishSize()
	p.mu.Unlock()

	metrics.RecordIngestN(ephstore.Inserted.String(), br.Inserted)
	metrics.RecordIngestN(ephstore.Replaced.String(), br.Replaced)
	metrics.RecordIngestN(ephstore.Duplicate.String(), br.Duplicates)
	for _, err := range br.Errors {
		outcome := "error"
		if errors.Is(err, ephstore.ErrConflict) {
			outcome = ephstore.Conflict.String()
		}
		metrics.RecordIngest(outcome)
		p.logger.Warn("ephemeris rejected", "error", err)
	}

	p.logger.Info("ephemeris batch ingested",
		"inserted", br.Inserted,
		"replaced", br.Replaced,
		"duplicates", br.Duplicates,
		"conflicts", br.Conflicts,
		"errors", len(br.Errors),
	)
	return br
}

func (p *Propagator) logIngest(r orbit.Record, res ephstore.Result, err error) {
	if err != nil {
		outcome := "error"
		if errors.Is(err, ephstore.ErrConflict) {
			outcome = ephstore.Conflict.String()
		}
		metrics.RecordIngest(outcome)
		p.logger.Warn("ephemeris rejected", "error", err)
		return
	}

	metrics.RecordIngest(res.Outcome.String())
	p.logger.Debug("ephemeris ingested",
		"sat", r.Sat().String(),
		"outcome", res.Outcome.String(),
		"reason", string(res.Reason),
		"key", res.Key.UTC().Format(time.RFC3339),
		"toe", r.ReferenceEpoch().UTC().Format(time.RFC3339),
	)
}

// publishSize updates the store gauges. Callers hold p.mu.
func (p *Propagator) publishSize() {
	metrics.SetStoreSize(p.store.Size(), len(p.store.IndexSet()))
}

// Lookup returns a copy of the record governing sat at t.
func (p *Propagator) Lookup(sat gnss.SatID, t time.Time, method Method) (orbit.Record, error) {
	p.mu.RLock()
	var (
		rec orbit.Record
		err error
	)
	switch method {
	case MethodUser:
		rec, err = p.store.FindUser(sat, t)
	case MethodNear:
		rec, err = p.store.FindNear(sat, t)
	default:
		rec, err = p.store.Find(sat, t)
	}
	if err == nil {
		rec = rec.Clone()
	}
	p.mu.RUnlock()

	metrics.RecordLookup(method.label(), lookupResult(err))
	return rec, err
}

func lookupResult(err error) string {
	switch {
	case err == nil:
		return "found"
	case errors.Is(err, ephstore.ErrUnknownSatellite):
		return "unknown"
	case errors.Is(err, ephstore.ErrNotFound):
		return "not_found"
	}
	return "error"
}

// StateAt computes the state of sat at t from the governing record,
// applying the store's health filter.
func (p *Propagator) StateAt(sat gnss.SatID, t time.Time) (orbit.State, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.store.StateAt(sat, t)
}

// Edit narrows the store to [tmin, tmax] and returns the number of records dropped.
func (p *Propagator) Edit(tmin, tmax time.Time) int {
	p.mu.Lock()
	n := p.store.Edit(tmin, tmax)
	if n > 0 {
		p.gen.Add(1)
	}
	p.publishSize()
	p.mu.Unlock()

	metrics.RecordEvicted(n)
	p.logger.Info("store edited",
		"tmin", tmin.UTC().Format(time.RFC3339),
		"tmax", tmax.UTC().Format(time.RFC3339),
		"removed", n,
	)
	return n
}

// Clear empties the store.
func (p *Propagator) Clear() {
	p.mu.Lock()
	p.store.Clear()
	p.gen.Add(1)
	p.publishSize()
	p.mu.Unlock()
	p.logger.Info("store cleared")
}

// Summary describes the store contents.
func (p *Propagator) Summary() ephstore.Summary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.store.Summarize()
}

// SatelliteInfo is one row of Satellites.
type SatelliteInfo struct {
	Sat     gnss.SatID
	Records int
	Begin   time.Time
	End     time.Time
}

// Satellites lists every satellite table with its size and span.
func (p *Propagator) Satellites() []SatelliteInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	sats := p.store.IndexSet()
	out := make([]SatelliteInfo, 0, len(sats))
	for _, sat := range sats {
		b, e, err := p.store.SatSpan(sat)
		if err != nil {
			continue
		}
		out = append(out, SatelliteInfo{
			Sat:     sat,
			Records: p.store.SizeMatching(ephstore.MatchSat(sat)),
			Begin:   b,
			End:     e,
		})
	}
	return out
}

// Records returns copies of the records selected by match, in satellite
// then key order.
func (p *Propagator) Records(match ephstore.SatFilter) []orbit.Record {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out, _ := p.store.AddToList(nil, match)
	return out
}

// Dump writes the store diagnostic listing at the given level.
func (p *Propagator) Dump(w io.Writer, level int) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.store.Dump(w, level)
}

// PropagateToTime computes a keyframe at the target time from the record
// governing each satellite. Satellites without coverage are left out, as are
// unhealthy ones when the store filters on health.
func (p *Propagator) PropagateToTime(ctx context.Context, targetTime time.Time) (*Keyframe, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.store.Size() == 0 {
		return nil, ErrNoData
	}

	sats := p.store.IndexSet()
	recs := make([]orbit.Record, 0, len(sats))
	for _, sat := range sats {
		rec, err := p.store.Find(sat, targetTime)
		if err != nil {
			continue
		}
		if p.store.OnlyHealthy() && !rec.IsHealthy() {
			continue
		}
		recs = append(recs, rec)
	}

	p.logger.Debug("propagating",
		"satellite_count", len(recs),
		"target_time", targetTime.UTC().Format(time.RFC3339),
		"workers", p.config.Workers,
	)

	start := time.Now()
	states, successCount, errorCount := p.pool.ComputeBatch(ctx, recs, targetTime)
	duration := time.Since(start)

	metrics.RecordPropagation(duration, successCount, errorCount)

	p.logger.Debug("propagation complete",
		"success", successCount,
		"errors", errorCount,
		"duration_ms", duration.Milliseconds(),
	)

	sort.Slice(states, func(i, j int) bool { return states[i].Sat.Less(states[j].Sat) })
	return &Keyframe{
		Timestamp:  targetTime,
		Satellites: states,
	}, nil
}

// GenerateKeyframes generates keyframes from startTime over the configured horizon
// at the configured step interval.
func (p *Propagator) GenerateKeyframes(ctx context.Context, startTime time.Time) ([]*Keyframe, error) {
	if p.config.Step <= 0 {
		return nil, fmt.Errorf("keyframe step must be positive, got %s", p.config.Step)
	}

	numFrames := int(p.config.Horizon/p.config.Step) + 1
	keyframes := make([]*Keyframe, 0, numFrames)

	for i := 0; i < numFrames; i++ {
		select {
		case <-ctx.Done():
			return keyframes, ctx.Err()
		default:
		}

		targetTime := startTime.Add(time.Duration(i) * p.config.Step)
		kf, err := p.PropagateToTime(ctx, targetTime)
		if err != nil {
			return keyframes, fmt.Errorf("keyframe %d at %s: %w", i, targetTime.Format(time.RFC3339), err)
		}
		keyframes = append(keyframes, kf)
	}

	return keyframes, nil
}
