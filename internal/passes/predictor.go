// Package passes predicts when satellites are above an observer's elevation
// mask, using whatever record governs each sample time.
package passes

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/star/gnsseph/internal/gnss"
	"github.com/star/gnsseph/internal/orbit"
	"github.com/star/gnsseph/internal/transform"
)

// StateSource computes a satellite state at a time. Both *ephstore.Store and
// *propagation.Propagator satisfy it.
type StateSource interface {
	StateAt(sat gnss.SatID, t time.Time) (orbit.State, error)
}

// PassEvent describes a single satellite pass over an observer location.
// StartTruncated and EndTruncated mark passes already in progress at the
// start of the window or still in progress at its end.
type PassEvent struct {
	StartTime        time.Time `json:"start_time"`
	MaxElevationTime time.Time `json:"max_elevation_time"`
	EndTime          time.Time `json:"end_time"`
	DurationSeconds  float64   `json:"duration_seconds"`
	MaxElevation     float64   `json:"max_elevation"`
	AzimuthAtMax     float64   `json:"azimuth_at_max"`
	StartAzimuth     float64   `json:"start_azimuth"`
	EndAzimuth       float64   `json:"end_azimuth"`
	StartTruncated   bool      `json:"start_truncated,omitempty"`
	EndTruncated     bool      `json:"end_truncated,omitempty"`
}

// SatellitePasses holds the predicted passes for one satellite.
type SatellitePasses struct {
	Sat    gnss.SatID
	Passes []PassEvent
	Error  string
}

// Request holds the parameters for a pass prediction request.
type Request struct {
	Observer     transform.Observer
	Sats         []gnss.SatID
	Start        time.Time
	End          time.Time
	MinElevation float64 // degrees
	MaxPasses    int     // per satellite; zero means no limit
	Step         time.Duration
}

const (
	defaultStep = time.Minute
	refineTol   = time.Second
)

// Predict computes satellite passes for the given request.
// Each satellite is processed in its own goroutine, bounded by a semaphore.
func Predict(ctx context.Context, src StateSource, req Request) []SatellitePasses {
	if req.Step <= 0 {
		req.Step = defaultStep
	}
	results := make([]SatellitePasses, len(req.Sats))
	sem := make(chan struct{}, runtime.NumCPU())
	var wg sync.WaitGroup

	for i, sat := range req.Sats {
		wg.Add(1)
		go func(idx int, sat gnss.SatID) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = SatellitePasses{Sat: sat, Error: ctx.Err().Error()}
				return
			}

			passes, err := predictSatellite(ctx, src, req, sat)
			if err != nil {
				results[idx] = SatellitePasses{Sat: sat, Error: err.Error()}
				return
			}
			results[idx] = SatellitePasses{Sat: sat, Passes: passes}
		}(i, sat)
	}

	wg.Wait()
	return results
}

// sample is one look at the satellite. ok is false when no usable record
// covers the time, which counts as not visible.
type sample struct {
	t  time.Time
	la transform.LookAngles
	ok bool
}

func (s sample) above(minElev float64) bool {
	return s.ok && s.la.ElevationDeg >= minElev
}

func lookAt(src StateSource, obs transform.Observer, sat gnss.SatID, t time.Time) (sample, error) {
	st, err := src.StateAt(sat, t)
	if err != nil {
		return sample{t: t}, err
	}
	return sample{t: t, la: obs.LookAt(st.Position), ok: true}, nil
}

// predictSatellite scans the window at req.Step and refines each horizon
// crossing by bisection. It fails only when no sample in the window could
// be computed.
func predictSatellite(ctx context.Context, src StateSource, req Request, sat gnss.SatID) ([]PassEvent, error) {
	var (
		passes   []PassEvent
		cur      *PassEvent
		prev     sample
		firstErr error
		anyOK    bool
	)

	for t := req.Start; !t.After(req.End); t = t.Add(req.Step) {
		if err := ctx.Err(); err != nil {
			return passes, err
		}

		s, err := lookAt(src, req.Observer, sat, t)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		anyOK = anyOK || s.ok
		above := s.above(req.MinElevation)

		switch {
		case above && cur == nil:
			cur = &PassEvent{StartTime: t, StartAzimuth: s.la.AzimuthDeg, StartTruncated: t.Equal(req.Start)}
			if !cur.StartTruncated {
				rise := refine(src, req, sat, prev.t, t, true)
				cur.StartTime, cur.StartAzimuth = rise.t, rise.la.AzimuthDeg
			}
			cur.MaxElevation, cur.MaxElevationTime, cur.AzimuthAtMax = s.la.ElevationDeg, t, s.la.AzimuthDeg

		case above:
			if s.la.ElevationDeg > cur.MaxElevation {
				cur.MaxElevation, cur.MaxElevationTime, cur.AzimuthAtMax = s.la.ElevationDeg, t, s.la.AzimuthDeg
			}

		case cur != nil:
			set := refine(src, req, sat, prev.t, t, false)
			cur.EndTime, cur.EndAzimuth = set.t, set.la.AzimuthDeg
			if !set.ok {
				cur.EndAzimuth = prev.la.AzimuthDeg
			}
			passes = appendPass(passes, *cur)
			cur = nil
			if req.MaxPasses > 0 && len(passes) >= req.MaxPasses {
				return passes, nil
			}
		}
		prev = s
	}

	if cur != nil {
		cur.EndTime, cur.EndAzimuth, cur.EndTruncated = prev.t, prev.la.AzimuthDeg, true
		passes = appendPass(passes, *cur)
	}
	if !anyOK && firstErr != nil {
		return nil, firstErr
	}
	return passes, nil
}

func appendPass(passes []PassEvent, p PassEvent) []PassEvent {
	p.DurationSeconds = p.EndTime.Sub(p.StartTime).Seconds()
	return append(passes, p)
}

// refine bisects (lo, hi] for the first time the satellite is above the
// mask (rising) or below it (setting) and returns that sample.
func refine(src StateSource, req Request, sat gnss.SatID, lo, hi time.Time, rising bool) sample {
	best, _ := lookAt(src, req.Observer, sat, hi)
	for hi.Sub(lo) > refineTol {
		mid := lo.Add(hi.Sub(lo) / 2)
		s, _ := lookAt(src, req.Observer, sat, mid)
		if s.above(req.MinElevation) == rising {
			hi, best = mid, s
		} else {
			lo = mid
		}
	}
	return best
}
