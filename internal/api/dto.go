package api

import (
	"errors"
	"time"

	"github.com/star/gnsseph/internal/ephjson"
	"github.com/star/gnsseph/internal/ephstore"
	"github.com/star/gnsseph/internal/gnss"
	"github.com/star/gnsseph/internal/orbit"
	"github.com/star/gnsseph/internal/propagation"
	"github.com/star/gnsseph/internal/tle"
	"github.com/star/gnsseph/internal/transform"
)

// errorResponse is the body of every non-2xx JSON answer.
type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

type tleJSON struct {
	Name    string `json:"name"`
	NORADID int    `json:"norad_id"`
	Line1   string `json:"line1"`
	Line2   string `json:"line2"`
}

type recordResponse struct {
	Sat      string            `json:"sat"`
	Kind     string            `json:"kind"`
	Toe      time.Time         `json:"toe"`
	Toc      time.Time         `json:"toc"`
	Begin    time.Time         `json:"begin_valid"`
	End      time.Time         `json:"end_valid"`
	Transmit time.Time         `json:"transmit"`
	Healthy  bool              `json:"healthy"`
	Elements *ephjson.Elements `json:"elements,omitempty"`
	TLE      *tleJSON          `json:"tle,omitempty"`
}

func toRecordResponse(r orbit.Record) recordResponse {
	resp := recordResponse{
		Sat:      r.Sat().String(),
		Kind:     "unknown",
		Toe:      r.ReferenceEpoch(),
		Toc:      r.ClockEpoch(),
		Begin:    r.BeginValid(),
		End:      r.EndValid(),
		Transmit: r.TransmitTime(),
		Healthy:  r.IsHealthy(),
	}
	switch rec := r.(type) {
	case *orbit.KeplerRecord:
		resp.Kind = "kepler"
		el := ephjson.FromKepler(rec.KeplerElements)
		resp.Elements = &el
	case *orbit.TLERecord:
		resp.Kind = "tle"
		resp.TLE = &tleJSON{Name: rec.Name, NORADID: rec.NORADID, Line1: rec.Line1, Line2: rec.Line2}
	}
	return resp
}

type ingestResult struct {
	Sat        string     `json:"sat,omitempty"`
	Outcome    string     `json:"outcome"`
	Reason     string     `json:"reason,omitempty"`
	Key        *time.Time `json:"key,omitempty"`
	Superseded *time.Time `json:"superseded,omitempty"`
	Error      string     `json:"error,omitempty"`
}

func toIngestResult(sat string, res ephstore.Result, err error) ingestResult {
	out := ingestResult{Sat: sat}
	if err != nil {
		out.Outcome = "error"
		if errors.Is(err, ephstore.ErrConflict) {
			out.Outcome = ephstore.Conflict.String()
		}
		out.Error = err.Error()
		return out
	}
	out.Outcome = res.Outcome.String()
	out.Reason = string(res.Reason)
	key := res.Key
	out.Key = &key
	if res.Outcome == ephstore.Replaced {
		sup := res.Superseded
		out.Superseded = &sup
	}
	return out
}

type ingestResponse struct {
	Inserted   int            `json:"inserted"`
	Replaced   int            `json:"replaced"`
	Duplicates int            `json:"duplicates"`
	Conflicts  int            `json:"conflicts"`
	Errors     int            `json:"errors"`
	Results    []ingestResult `json:"results"`
}

// spanJSON renders a time span, with nulls for an empty store.
type spanJSON struct {
	Begin *time.Time `json:"begin"`
	End   *time.Time `json:"end"`
}

func toSpan(begin, end time.Time) spanJSON {
	if begin.After(end) {
		return spanJSON{}
	}
	return spanJSON{Begin: &begin, End: &end}
}

type summaryResponse struct {
	Name        string   `json:"name"`
	Policy      string   `json:"policy"`
	TimeSystem  string   `json:"time_system"`
	OnlyHealthy bool     `json:"only_healthy"`
	Satellites  int      `json:"satellites"`
	Records     int      `json:"records"`
	Span        spanJSON `json:"span"`
}

func toSummaryResponse(s ephstore.Summary) summaryResponse {
	return summaryResponse{
		Name:        s.Name,
		Policy:      s.Policy.String(),
		TimeSystem:  s.TimeSystem.String(),
		OnlyHealthy: s.OnlyHealthy,
		Satellites:  s.Satellites,
		Records:     s.Records,
		Span:        toSpan(s.Initial, s.Final),
	}
}

type satelliteResponse struct {
	Sat     string   `json:"sat"`
	System  string   `json:"system"`
	Records int      `json:"records"`
	Span    spanJSON `json:"span"`
}

type editRequest struct {
	TMin time.Time `json:"tmin"`
	TMax time.Time `json:"tmax"`
}

type editResponse struct {
	Removed int             `json:"removed"`
	Store   summaryResponse `json:"store"`
}

type geodeticJSON struct {
	LatDeg float64 `json:"lat_deg"`
	LonDeg float64 `json:"lon_deg"`
	AltM   float64 `json:"alt_m"`
}

type lookJSON struct {
	AzimuthDeg   float64 `json:"azimuth_deg"`
	ElevationDeg float64 `json:"elevation_deg"`
	RangeKm      float64 `json:"range_km"`
}

type stateResponse struct {
	Sat        string       `json:"sat"`
	Time       time.Time    `json:"time"`
	Position   [3]float64   `json:"position_ecef_m"`
	Velocity   [3]float64   `json:"velocity_ecef_mps"`
	ClockBias  float64      `json:"clock_bias_s"`
	ClockDrift float64      `json:"clock_drift"`
	RelCorr    float64      `json:"relativity_s"`
	Geodetic   geodeticJSON `json:"geodetic"`
	Look       *lookJSON    `json:"look,omitempty"`
}

func toStateResponse(sat gnss.SatID, t time.Time, st orbit.State, obs *transform.Observer) stateResponse {
	g := transform.ToGeodetic(st.Position)
	resp := stateResponse{
		Sat:        sat.String(),
		Time:       t,
		Position:   st.Position,
		Velocity:   st.Velocity,
		ClockBias:  st.ClockBias,
		ClockDrift: st.ClockDrift,
		RelCorr:    st.RelCorr,
		Geodetic:   geodeticJSON{LatDeg: g.LatDeg, LonDeg: g.LonDeg, AltM: g.AltM},
	}
	if obs != nil {
		la := obs.LookAt(st.Position)
		resp.Look = &lookJSON{AzimuthDeg: la.AzimuthDeg, ElevationDeg: la.ElevationDeg, RangeKm: la.RangeKm}
	}
	return resp
}

type keyframeSat struct {
	Sat       string     `json:"sat"`
	Toe       time.Time  `json:"toe"`
	Position  [3]float64 `json:"position_ecef_m"`
	Velocity  [3]float64 `json:"velocity_ecef_mps"`
	ClockBias float64    `json:"clock_bias_s"`
	Healthy   bool       `json:"healthy"`
}

type keyframeResponse struct {
	Timestamp  time.Time     `json:"timestamp"`
	Count      int           `json:"count"`
	Satellites []keyframeSat `json:"satellites"`
}

func toKeyframeResponse(kf *propagation.Keyframe) keyframeResponse {
	resp := keyframeResponse{
		Timestamp:  kf.Timestamp,
		Count:      len(kf.Satellites),
		Satellites: make([]keyframeSat, 0, len(kf.Satellites)),
	}
	for _, st := range kf.Satellites {
		resp.Satellites = append(resp.Satellites, keyframeSat{
			Sat:       st.Sat.String(),
			Toe:       st.Toe,
			Position:  st.PositionECEF,
			Velocity:  st.VelocityECEF,
			ClockBias: st.ClockBias,
			Healthy:   st.Healthy,
		})
	}
	return resp
}

type tleMetadataResponse struct {
	Source     string    `json:"source"`
	FetchedAt  time.Time `json:"fetched_at"`
	EpochMin   time.Time `json:"epoch_min"`
	EpochMax   time.Time `json:"epoch_max"`
	Entries    int       `json:"entries"`
	Inserted   int       `json:"inserted"`
	Replaced   int       `json:"replaced"`
	Duplicates int       `json:"duplicates"`
	Rejected   int       `json:"rejected"`
}

func toTLEMetadataResponse(m tle.Metadata) tleMetadataResponse {
	return tleMetadataResponse{
		Source:     m.Source,
		FetchedAt:  m.FetchedAt,
		EpochMin:   m.EpochRange.Min,
		EpochMax:   m.EpochRange.Max,
		Entries:    m.Entries,
		Inserted:   m.Inserted,
		Replaced:   m.Replaced,
		Duplicates: m.Duplicates,
		Rejected:   m.Rejected,
	}
}
