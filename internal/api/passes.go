package api

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/star/gnsseph/internal/gnss"
	"github.com/star/gnsseph/internal/passes"
)

const (
	defaultPassHours = 12
	maxPassHours     = 48
	defaultMinElev   = 10
)

type passesSat struct {
	Sat    string             `json:"sat"`
	Passes []passes.PassEvent `json:"passes"`
	Error  string             `json:"error,omitempty"`
}

type passesResponse struct {
	Start        time.Time    `json:"start"`
	End          time.Time    `json:"end"`
	MinElevation float64      `json:"min_elevation"`
	Observer     geodeticJSON `json:"observer"`
	Satellites   []passesSat  `json:"satellites"`
}

// handlePasses predicts visibility windows for an observer over the stored
// satellites, optionally filtered by system.
func (s *Server) handlePasses(w http.ResponseWriter, r *http.Request) {
	obs, err := queryObserver(r)
	if err == nil && obs == nil {
		err = errors.New("lat and lon are required")
	}
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err)
		return
	}
	start, err := queryTime(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err)
		return
	}
	sys, err := querySystem(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err)
		return
	}

	q := r.URL.Query()
	hours := float64(defaultPassHours)
	if v := q.Get("hours"); v != "" {
		if hours, err = strconv.ParseFloat(v, 64); err != nil || hours <= 0 || hours > maxPassHours {
			writeError(w, r, http.StatusBadRequest, "bad_request", fmt.Errorf("hours must be in (0, %d], got %q", maxPassHours, v))
			return
		}
	}
	minEl := float64(defaultMinElev)
	if v := q.Get("min_el"); v != "" {
		if minEl, err = strconv.ParseFloat(v, 64); err != nil || minEl < -90 || minEl > 90 {
			writeError(w, r, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid min_el %q", v))
			return
		}
	}

	var sats []gnss.SatID
	for _, info := range s.prop.Satellites() {
		if sys == gnss.SystemUnknown || info.Sat.System == sys {
			sats = append(sats, info.Sat)
		}
	}

	req := passes.Request{
		Observer:     *obs,
		Sats:         sats,
		Start:        start,
		End:          start.Add(time.Duration(hours * float64(time.Hour))),
		MinElevation: minEl,
	}
	results := passes.Predict(r.Context(), s.prop, req)

	resp := passesResponse{
		Start:        req.Start,
		End:          req.End,
		MinElevation: minEl,
		Observer:     geodeticJSON{LatDeg: obs.LatRad * 180 / math.Pi, LonDeg: obs.LonRad * 180 / math.Pi, AltM: obs.AltM},
		Satellites:   make([]passesSat, 0, len(results)),
	}
	for _, res := range results {
		ps := res.Passes
		if ps == nil {
			ps = []passes.PassEvent{}
		}
		resp.Satellites = append(resp.Satellites, passesSat{Sat: res.Sat.String(), Passes: ps, Error: res.Error})
	}
	writeJSON(w, http.StatusOK, resp)
}
