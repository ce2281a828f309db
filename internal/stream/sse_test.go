package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/star/gnsseph/internal/ephstore"
	"github.com/star/gnsseph/internal/gnss"
	"github.com/star/gnsseph/internal/orbit"
	"github.com/star/gnsseph/internal/propagation"
	"github.com/star/gnsseph/internal/tle"
)

var testToe = time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

func testPropagator(t *testing.T) *propagation.Propagator {
	t.Helper()
	prop := propagation.NewPropagator(ephstore.New(ephstore.Options{Name: "test", OnlyHealthy: true}),
		propagation.PropConfig{Workers: 2}, testLogger())
	rec, err := orbit.NewKeplerRecord(gnss.NewSatID(gnss.SystemGPS, 5), testToe, testToe, time.Time{}, orbit.KeplerElements{
		SqrtA:  5153.65,
		Ecc:    0.0065,
		I0:     0.9622,
		Omega0: -2.1073,
		Omega:  0.6613,
		M0:     1.77,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := prop.Ingest(rec); err != nil {
		t.Fatal(err)
	}
	return prop
}

func testConfig() Config {
	return Config{
		MaxConcurrentPerIP: 10,
		KeepaliveInterval:  30 * time.Second,
	}
}

type fixedMeta struct{ m tle.Metadata }

func (f fixedMeta) Metadata() (tle.Metadata, bool) { return f.m, true }

// TestBuildBatchMessage verifies the keyframe batch payload structure.
func TestBuildBatchMessage(t *testing.T) {
	kf := &propagation.Keyframe{
		Timestamp: time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC),
		Satellites: []propagation.SatelliteState{
			{
				Sat:          gnss.NewSatID(gnss.SystemGPS, 5),
				PositionECEF: [3]float64{26560e3, 0, 0},
				Healthy:      true,
			},
			{
				Sat:          gnss.NewSatID(gnss.SystemGalileo, 11),
				PositionECEF: [3]float64{0, 29600e3, 0},
			},
		},
	}

	msg := buildBatchMessage(kf, gnss.SystemUnknown)
	if msg.Type != "keyframe_batch" || msg.Frame != "ECEF" {
		t.Errorf("type/frame = %q/%q", msg.Type, msg.Frame)
	}
	if msg.T != "2024-04-10T12:00:00Z" {
		t.Errorf("t = %q, want %q", msg.T, "2024-04-10T12:00:00Z")
	}
	if len(msg.Sat) != 2 || msg.Sat[0].ID != "G05" || msg.Sat[1].ID != "E11" {
		t.Fatalf("sat = %+v", msg.Sat)
	}
	if !msg.Sat[0].H || msg.Sat[1].H {
		t.Error("health flags not carried")
	}

	msg = buildBatchMessage(kf, gnss.SystemGalileo)
	if len(msg.Sat) != 1 || msg.Sat[0].ID != "E11" {
		t.Errorf("filtered sat = %+v", msg.Sat)
	}
}

// TestBatchMessageJSON verifies the JSON field names.
func TestBatchMessageJSON(t *testing.T) {
	msg := keyframeBatchMessage{
		Type:  "keyframe_batch",
		T:     "2024-04-10T12:00:00Z",
		Frame: "ECEF",
		Sat:   []satPayload{{ID: "R07", P: [3]float64{1, 2, 3}}},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatal(err)
	}
	sats, ok := parsed["sat"].([]any)
	if !ok || len(sats) != 1 {
		t.Fatalf("sat = %v, want 1-element array", parsed["sat"])
	}
	sat := sats[0].(map[string]any)
	if sat["id"] != "R07" {
		t.Errorf("sat[0].id = %v, want R07", sat["id"])
	}
	for _, key := range []string{"p", "v", "c", "h"} {
		if _, ok := sat[key]; !ok {
			t.Errorf("sat[0] missing %q", key)
		}
	}
}

func TestMetadataMessage(t *testing.T) {
	fetched := time.Now().Add(-30 * time.Minute)
	h := NewHandler(testPropagator(t), nil, fixedMeta{tle.Metadata{FetchedAt: fetched}}, testConfig(), testLogger())

	msg := h.metadata()
	if msg.Type != "metadata" || msg.Store != "test" || msg.Records != 1 || msg.Satellites != 1 {
		t.Errorf("metadata = %+v", msg)
	}
	if msg.SpanBegin != "2024-04-10T10:00:00Z" || msg.SpanEnd != "2024-04-10T14:00:00Z" {
		t.Errorf("span = %s..%s", msg.SpanBegin, msg.SpanEnd)
	}
	if msg.TLEAge == nil || *msg.TLEAge < 1790 || *msg.TLEAge > 1900 {
		t.Errorf("tle age = %v", msg.TLEAge)
	}

	empty := NewHandler(propagation.NewPropagator(ephstore.New(ephstore.Options{}), propagation.PropConfig{Workers: 1}, testLogger()),
		nil, nil, testConfig(), testLogger())
	if msg := empty.metadata(); msg.SpanBegin != "" || msg.TLEAge != nil {
		t.Errorf("empty metadata = %+v", msg)
	}
}

// TestSSEReplay verifies the SSE wire format and replayed frame times.
func TestSSEReplay(t *testing.T) {
	handler := NewHandler(testPropagator(t), nil, nil, testConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream/keyframes?step=1&t=2024-04-10T11:59:59Z", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	ctx, cancel := context.WithTimeout(req.Context(), 2500*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	handler.HandleKeyframes(w, req)

	resp := w.Result()
	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("Cache-Control") != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", resp.Header.Get("Cache-Control"))
	}

	var types, frames []string
	scanner := bufio.NewScanner(strings.NewReader(w.Body.String()))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "", line == ":", strings.HasPrefix(line, "retry: "):
		case strings.HasPrefix(line, "data: "):
			var msg map[string]any
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
				t.Fatalf("invalid JSON in SSE data line: %v", err)
			}
			types = append(types, msg["type"].(string))
			if msg["type"] == "keyframe_batch" {
				frames = append(frames, msg["t"].(string))
			}
		default:
			t.Errorf("unexpected SSE line: %q", line)
		}
	}

	if len(types) == 0 || types[0] != "metadata" {
		t.Fatalf("first message should be metadata, got %v", types)
	}
	if len(frames) == 0 || frames[0] != "2024-04-10T12:00:00Z" {
		t.Errorf("frames = %v, want first at 12:00:00", frames)
	}
	if len(frames) > 1 && frames[1] != "2024-04-10T12:00:01Z" {
		t.Errorf("second frame = %s, want 12:00:01", frames[1])
	}
}

// TestRateLimiting verifies per-IP concurrent stream limits.
func TestRateLimiting(t *testing.T) {
	limiter := newStreamLimiter(3)

	for i := 0; i < 3; i++ {
		if !limiter.acquire("10.0.0.1") {
			t.Fatalf("acquire %d should succeed", i+1)
		}
	}
	if limiter.acquire("10.0.0.1") {
		t.Error("acquire beyond limit should fail")
	}
	if !limiter.acquire("10.0.0.2") {
		t.Error("different IP should not be rate limited")
	}

	limiter.release("10.0.0.1")
	if !limiter.acquire("10.0.0.1") {
		t.Error("acquire after release should succeed")
	}
	if c := limiter.count("10.0.0.1"); c != 3 {
		t.Errorf("count = %d, want 3", c)
	}

	// Releasing an unknown client must not drive the total negative.
	limiter.release("10.9.9.9")
	if limiter.total != 4 {
		t.Errorf("total = %d, want 4", limiter.total)
	}
}

func TestRateLimitingConcurrent(t *testing.T) {
	limiter := newStreamLimiter(100)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.acquire("10.0.0.1") {
				defer limiter.release("10.0.0.1")
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if c := limiter.count("10.0.0.1"); c != 0 {
		t.Errorf("count after all released = %d, want 0", c)
	}
}

// TestRateLimitHTTPResponse verifies 429 response when limit exceeded.
func TestRateLimitHTTPResponse(t *testing.T) {
	handler := NewHandler(testPropagator(t), nil, nil, Config{
		MaxConcurrentPerIP: 1,
		KeepaliveInterval:  30 * time.Second,
	}, testLogger())

	if !handler.limiter.acquire("10.0.0.1") {
		t.Fatal("first acquire should succeed")
	}
	defer handler.limiter.release("10.0.0.1")

	req := httptest.NewRequest("GET", "/api/v1/stream/keyframes", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	w := httptest.NewRecorder()
	handler.HandleKeyframes(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

// TestInvalidQueryParams verifies error responses for bad parameters.
func TestInvalidQueryParams(t *testing.T) {
	handler := NewHandler(testPropagator(t), nil, nil, testConfig(), testLogger())

	tests := []struct {
		name  string
		query string
	}{
		{"bad step", "?step=0"},
		{"step too large", "?step=100"},
		{"step non-numeric", "?step=abc"},
		{"unknown system", "?system=X"},
		{"bad replay time", "?t=yesterday"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/stream/keyframes"+tt.query, nil)
			req.RemoteAddr = "127.0.0.1:12345"
			w := httptest.NewRecorder()
			handler.HandleKeyframes(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

type fakeFrames struct{ kf *propagation.Keyframe }

func (f fakeFrames) Get(time.Time) *propagation.Keyframe { return f.kf }

// TestLiveUsesFrameSource verifies live streams read cached frames first.
func TestLiveUsesFrameSource(t *testing.T) {
	cached := &propagation.Keyframe{
		Timestamp:  testToe,
		Satellites: []propagation.SatelliteState{{Sat: gnss.NewSatID(gnss.SystemGLONASS, 7), Healthy: true}},
	}
	handler := NewHandler(testPropagator(t), fakeFrames{cached}, nil, testConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream/keyframes?step=1", nil)
	ctx, cancel := context.WithTimeout(req.Context(), 1500*time.Millisecond)
	defer cancel()
	w := httptest.NewRecorder()
	handler.HandleKeyframes(w, req.WithContext(ctx))

	if !strings.Contains(w.Body.String(), `"id":"R07"`) {
		t.Errorf("live stream did not use the cached frame:\n%s", w.Body.String())
	}
}
