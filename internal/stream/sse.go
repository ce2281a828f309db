// Package stream implements Server-Sent Events (SSE) streaming of satellite
// keyframes computed from the ephemeris store. Clients connect via
// GET /api/v1/stream/keyframes and receive one keyframe per step.
//
// SSE message format:
//
//	data: {"type":"keyframe_batch","t":"2024-04-10T12:00:00Z","frame":"ECEF","sat":[...]}\n\n
//
// First message is always metadata:
//
//	data: {"type":"metadata","records":64,"satellites":32,...}\n\n
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval to prevent timeout.
// A "t" query parameter replays from that time instead of following the clock.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/star/gnsseph/internal/gnss"
	"github.com/star/gnsseph/internal/httputil"
	"github.com/star/gnsseph/internal/metrics"
	"github.com/star/gnsseph/internal/propagation"
	"github.com/star/gnsseph/internal/tle"
)

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 10).
	KeepaliveInterval  time.Duration // Keep-alive ping interval (default: 30s).
	TrustProxy         bool
}

// MetadataSource reports the last element-set load. *tle.Refresher satisfies it.
type MetadataSource interface {
	Metadata() (tle.Metadata, bool)
}

// FrameSource serves precomputed keyframes. *cache.KeyframeCache satisfies it.
type FrameSource interface {
	Get(t time.Time) *propagation.Keyframe
}

// Handler manages SSE streaming connections.
type Handler struct {
	prop    *propagation.Propagator
	frames  FrameSource
	meta    MetadataSource
	config  Config
	limiter *streamLimiter
	logger  *slog.Logger
}

// NewHandler creates a new streaming handler. frames and meta may be nil;
// without frames every keyframe is computed on demand.
func NewHandler(prop *propagation.Propagator, frames FrameSource, meta MetadataSource, config Config, logger *slog.Logger) *Handler {
	if config.MaxConcurrentPerIP < 1 {
		config.MaxConcurrentPerIP = 10
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 30 * time.Second
	}
	return &Handler{
		prop:    prop,
		frames:  frames,
		meta:    meta,
		config:  config,
		limiter: newStreamLimiter(config.MaxConcurrentPerIP),
		logger:  logger,
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}

// HandleKeyframes serves the SSE keyframe stream.
// GET /api/v1/stream/keyframes?step=5&system=G&t=2024-04-10T12:00:00Z
func (h *Handler) HandleKeyframes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	step := 5
	if v := q.Get("step"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 60 {
			writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid step parameter, must be 1-60")
			return
		}
		step = n
	}

	var sys gnss.System
	if v := q.Get("system"); v != "" {
		var ok bool
		if len(v) == 1 {
			sys, ok = gnss.SystemFromLetter(strings.ToUpper(v)[0])
		}
		if !ok {
			writeJSONError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown system %q", v))
			return
		}
	}

	var replayFrom time.Time
	if v := q.Get("t"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid time %q: want RFC 3339", v))
			return
		}
		replayFrom = t
	}

	// Rate limiting: enforce concurrent stream limit per IP.
	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream rate limit exceeded",
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Retry-After", "30")
		writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "too many concurrent streams")
		return
	}

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()

	startTime := time.Now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"step", step,
		"replay", !replayFrom.IsZero(),
	)

	defer func() {
		h.limiter.release(ip)
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("streaming not supported", "remote_ip", ip, "error", err)
		return
	}

	// Clear the server's default WriteTimeout for this connection.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	c := &client{w: w, rc: rc, ip: ip, logger: h.logger}

	// Jittered retry interval (3-7s) spreads reconnects after a restart.
	if err := c.sendRetry(3000 + rand.Intn(4000)); err != nil {
		return
	}

	if err := c.sendJSON(h.metadata()); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
		return
	}

	stepDuration := time.Duration(step) * time.Second
	ticker := time.NewTicker(stepDuration)
	defer ticker.Stop()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	ctx := r.Context()
	frameTime := replayFrom

	for {
		select {
		case <-ctx.Done():
			return

		case t := <-ticker.C:
			if replayFrom.IsZero() {
				frameTime = t.UTC()
			} else {
				frameTime = frameTime.Add(stepDuration)
			}

			kf, err := h.keyframe(ctx, frameTime, replayFrom.IsZero())
			if err != nil {
				reason := "propagation_error"
				if errors.Is(err, propagation.ErrNoData) {
					reason = "no_data"
				}
				metrics.IncStreamErrors(reason)
				h.logger.Debug("stream keyframe unavailable",
					"timestamp", frameTime.Format(time.RFC3339),
					"remote_ip", ip,
					"error", err,
				)
				continue
			}

			data, err := json.Marshal(buildBatchMessage(kf, sys))
			if err != nil {
				metrics.IncStreamErrors("marshal_error")
				h.logger.Warn("stream marshal error", "remote_ip", ip, "error", err)
				continue
			}
			if err := c.sendRaw(data); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
				return
			}

			// Reset keepalive since we just sent data.
			keepaliveTicker.Reset(h.config.KeepaliveInterval)

		case <-keepaliveTicker.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

// keyframe serves live frames from the cache when it has them.
func (h *Handler) keyframe(ctx context.Context, t time.Time, live bool) (*propagation.Keyframe, error) {
	if live && h.frames != nil {
		if kf := h.frames.Get(t); kf != nil {
			return kf, nil
		}
	}
	return h.prop.PropagateToTime(ctx, t)
}

func (h *Handler) metadata() metadataMessage {
	sum := h.prop.Summary()
	msg := metadataMessage{
		Type:       "metadata",
		Store:      sum.Name,
		Records:    sum.Records,
		Satellites: sum.Satellites,
	}
	if sum.Records > 0 {
		msg.SpanBegin = sum.Initial.UTC().Format(time.RFC3339)
		msg.SpanEnd = sum.Final.UTC().Format(time.RFC3339)
	}
	if h.meta != nil {
		if m, ok := h.meta.Metadata(); ok {
			msg.DatasetEpoch = m.FetchedAt.UTC().Format(time.RFC3339)
			age := int(time.Since(m.FetchedAt).Seconds())
			msg.TLEAge = &age
		}
	}
	return msg
}

// buildBatchMessage formats a keyframe into the SSE batch payload, keeping
// only satellites of sys unless sys is SystemUnknown.
func buildBatchMessage(kf *propagation.Keyframe, sys gnss.System) keyframeBatchMessage {
	sats := make([]satPayload, 0, len(kf.Satellites))
	for _, s := range kf.Satellites {
		if sys != gnss.SystemUnknown && s.Sat.System != sys {
			continue
		}
		sats = append(sats, satPayload{
			ID: s.Sat.String(),
			P:  s.PositionECEF,
			V:  s.VelocityECEF,
			C:  s.ClockBias,
			H:  s.Healthy,
		})
	}
	return keyframeBatchMessage{
		Type:  "keyframe_batch",
		T:     kf.Timestamp.UTC().Format(time.RFC3339),
		Frame: "ECEF",
		Sat:   sats,
	}
}

// SSE message payload types.

type metadataMessage struct {
	Type         string `json:"type"`
	Store        string `json:"store"`
	Records      int    `json:"records"`
	Satellites   int    `json:"satellites"`
	SpanBegin    string `json:"span_begin,omitempty"`
	SpanEnd      string `json:"span_end,omitempty"`
	DatasetEpoch string `json:"dataset_epoch,omitempty"`
	TLEAge       *int   `json:"tle_age_seconds,omitempty"`
}

type keyframeBatchMessage struct {
	Type  string       `json:"type"`
	T     string       `json:"t"`
	Frame string       `json:"frame"`
	Sat   []satPayload `json:"sat"`
}

type satPayload struct {
	ID string     `json:"id"`
	P  [3]float64 `json:"p"`
	V  [3]float64 `json:"v"`
	C  float64    `json:"c"`
	H  bool       `json:"h"`
}
