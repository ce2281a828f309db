package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/star/gnsseph/internal/ephjson"
	"github.com/star/gnsseph/internal/ephstore"
	"github.com/star/gnsseph/internal/gnss"
	"github.com/star/gnsseph/internal/httputil"
	"github.com/star/gnsseph/internal/orbit"
	"github.com/star/gnsseph/internal/propagation"
	"github.com/star/gnsseph/internal/transform"
)

const (
	maxIngestBody    = 4 << 20
	maxIngestRecords = 10000
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code, RequestID: requestID(r.Context())})
}

// writeLookupError maps store errors to HTTP answers. Unknown satellites
// are checked first because they also match ErrNotFound.
func writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ephstore.ErrUnknownSatellite):
		writeError(w, r, http.StatusNotFound, "unknown_satellite", err)
	case errors.Is(err, ephstore.ErrNotFound), errors.Is(err, orbit.ErrOutsideValidity):
		writeError(w, r, http.StatusNotFound, "not_found", err)
	case errors.Is(err, ephstore.ErrUnhealthy):
		writeError(w, r, http.StatusUnprocessableEntity, "unhealthy", err)
	case errors.Is(err, propagation.ErrNoData):
		writeError(w, r, http.StatusNotFound, "no_data", err)
	default:
		writeError(w, r, http.StatusInternalServerError, "internal", err)
	}
}

// queryTime parses the "t" parameter as RFC 3339; absent means now.
func queryTime(r *http.Request) (time.Time, error) {
	v := r.URL.Query().Get("t")
	if v == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339", v)
	}
	return t, nil
}

// querySystem parses the optional one-letter system filter. SystemUnknown
// means no filter.
func querySystem(r *http.Request) (gnss.System, error) {
	v := r.URL.Query().Get("system")
	if v == "" {
		return gnss.SystemUnknown, nil
	}
	if len(v) == 1 {
		if sys, ok := gnss.SystemFromLetter(strings.ToUpper(v)[0]); ok {
			return sys, nil
		}
	}
	return gnss.SystemUnknown, fmt.Errorf("unknown system %q", v)
}

// querySat parses the {sat} path value.
func querySat(r *http.Request) (gnss.SatID, error) {
	return gnss.ParseSatID(r.PathValue("sat"))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSummaryResponse(s.prop.Summary()))
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.prop.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	level := ephstore.DumpSummary
	if v := r.URL.Query().Get("level"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid level %q", v))
			return
		}
		level = n
	}

	var buf bytes.Buffer
	if err := s.prop.Dump(&buf, level); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", fmt.Errorf("decoding edit request: %w", err))
		return
	}
	if req.TMin.IsZero() || req.TMax.IsZero() {
		writeError(w, r, http.StatusBadRequest, "bad_request", errors.New("tmin and tmax are required"))
		return
	}

	removed := s.prop.Edit(req.TMin, req.TMax)
	writeJSON(w, http.StatusOK, editResponse{Removed: removed, Store: toSummaryResponse(s.prop.Summary())})
}

func (s *Server) handleSatellites(w http.ResponseWriter, r *http.Request) {
	sys, err := querySystem(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err)
		return
	}

	out := []satelliteResponse{}
	for _, info := range s.prop.Satellites() {
		if sys != gnss.SystemUnknown && info.Sat.System != sys {
			continue
		}
		out = append(out, satelliteResponse{
			Sat:     info.Sat.String(),
			System:  info.Sat.System.String(),
			Records: info.Records,
			Span:    toSpan(info.Begin, info.End),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEphemeris(w http.ResponseWriter, r *http.Request) {
	sat, err := querySat(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err)
		return
	}
	t, err := queryTime(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err)
		return
	}
	method, err := propagation.ParseMethod(r.URL.Query().Get("method"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err)
		return
	}

	rec, err := s.prop.Lookup(sat, t, method)
	if err != nil {
		writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(rec))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sat, err := querySat(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err)
		return
	}
	t, err := queryTime(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err)
		return
	}
	obs, err := queryObserver(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err)
		return
	}

	st, err := s.prop.StateAt(sat, t)
	if err != nil {
		writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateResponse(sat, t, st, obs))
}

// queryObserver reads lat/lon (degrees) and alt (meters). Both lat and lon
// must be present for an observer; alt defaults to zero.
func queryObserver(r *http.Request) (*transform.Observer, error) {
	q := r.URL.Query()
	latStr, lonStr := q.Get("lat"), q.Get("lon")
	if latStr == "" && lonStr == "" {
		return nil, nil
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil || math.Abs(lat) > 90 {
		return nil, fmt.Errorf("invalid lat %q", latStr)
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil || math.Abs(lon) > 180 {
		return nil, fmt.Errorf("invalid lon %q", lonStr)
	}
	var alt float64
	if v := q.Get("alt"); v != "" {
		if alt, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("invalid alt %q", v)
		}
	}
	obs := transform.NewObserver(lat, lon, alt)
	return &obs, nil
}

func (s *Server) handleKeyframe(w http.ResponseWriter, r *http.Request) {
	t, err := queryTime(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err)
		return
	}
	kf, err := s.prop.PropagateToTime(r.Context(), t)
	if err != nil {
		writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toKeyframeResponse(kf))
}

// handleIngest accepts a single ephemeris object or an array of them. A
// single object answers with its own status (201 stored, 200 duplicate,
// 409 conflict); an array always answers 200 with per-record results.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody+1))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", fmt.Errorf("reading body: %w", err))
		return
	}
	if len(body) > maxIngestBody {
		writeError(w, r, http.StatusRequestEntityTooLarge, "too_large", fmt.Errorf("body exceeds %d byte limit", maxIngestBody))
		return
	}

	reqs, isArray, err := ephjson.Decode(body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err)
		return
	}
	if isArray {
		if len(reqs) > maxIngestRecords {
			writeError(w, r, http.StatusRequestEntityTooLarge, "too_large", fmt.Errorf("%d records exceeds limit of %d", len(reqs), maxIngestRecords))
			return
		}
		writeJSON(w, http.StatusOK, s.ingestMany(reqs))
		return
	}

	rec, err := reqs[0].Record()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err)
		return
	}

	res, err := s.prop.Ingest(rec)
	if err != nil {
		if errors.Is(err, ephstore.ErrConflict) {
			writeError(w, r, http.StatusConflict, "conflict", err)
			return
		}
		writeError(w, r, http.StatusBadRequest, "bad_request", err)
		return
	}
	status := http.StatusOK
	if res.Stored() {
		status = http.StatusCreated
	}
	writeJSON(w, status, toIngestResult(rec.Sat().String(), res, nil))
}

func (s *Server) ingestMany(reqs []ephjson.Ephemeris) ingestResponse {
	resp := ingestResponse{Results: make([]ingestResult, 0, len(reqs))}
	for _, req := range reqs {
		rec, err := req.Record()
		if err != nil {
			resp.Errors++
			resp.Results = append(resp.Results, ingestResult{Sat: req.Sat, Outcome: "error", Error: err.Error()})
			continue
		}
		res, err := s.prop.Ingest(rec)
		switch {
		case errors.Is(err, ephstore.ErrConflict):
			resp.Conflicts++
		case err != nil:
			resp.Errors++
		case res.Outcome == ephstore.Inserted:
			resp.Inserted++
		case res.Outcome == ephstore.Replaced:
			resp.Replaced++
		case res.Outcome == ephstore.Duplicate:
			resp.Duplicates++
		}
		resp.Results = append(resp.Results, toIngestResult(rec.Sat().String(), res, err))
	}
	return resp
}

func (s *Server) handleTLEFetch(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeError(w, r, http.StatusServiceUnavailable, "disabled", errors.New("TLE fetching is disabled"))
		return
	}

	client := httputil.ClientIP(r, s.trustProxy)
	if ok, wait := s.limiter.Allow(client); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		writeError(w, r, http.StatusTooManyRequests, "rate_limited", fmt.Errorf("retry in %s", wait.Round(time.Second)))
		return
	}

	meta, err := s.refresher.Refresh(r.Context())
	if err != nil {
		s.logger.Warn("manual TLE fetch failed", "error", err, "remote_ip", client)
		writeError(w, r, http.StatusBadGateway, "fetch_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toTLEMetadataResponse(meta))
}

func (s *Server) handleTLEMetadata(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeError(w, r, http.StatusServiceUnavailable, "disabled", errors.New("TLE fetching is disabled"))
		return
	}
	meta, ok := s.refresher.Metadata()
	if !ok {
		writeError(w, r, http.StatusNotFound, "no_data", errors.New("no TLE data loaded"))
		return
	}
	writeJSON(w, http.StatusOK, toTLEMetadataResponse(meta))
}
