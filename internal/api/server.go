// Package api exposes the ephemeris store over HTTP.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/star/gnsseph/internal/auth"
	"github.com/star/gnsseph/internal/cache"
	"github.com/star/gnsseph/internal/health"
	"github.com/star/gnsseph/internal/httputil"
	"github.com/star/gnsseph/internal/metrics"
	"github.com/star/gnsseph/internal/propagation"
	"github.com/star/gnsseph/internal/stream"
	"github.com/star/gnsseph/internal/tle"
)

// Options holds the request handling settings that are not dependencies.
type Options struct {
	TrustProxy bool
	FetchRate  float64 // manual TLE fetches per minute per client
	FetchBurst int

	StreamMaxPerIP  int
	StreamKeepalive time.Duration

	// Cache serves live stream frames; nil computes every frame on demand.
	Cache *cache.KeyframeCache
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger

	prop       *propagation.Propagator
	refresher  *tle.Refresher
	limiter    *httputil.ClientRateLimiter
	trustProxy bool
}

// NewServer creates a configured HTTP server. refresher may be nil, in which
// case the TLE routes answer 503.
func NewServer(addr string, logger *slog.Logger, authCfg auth.Config, prop *propagation.Propagator, refresher *tle.Refresher, ready *health.Readiness, opts Options) *Server {
	s := &Server{
		logger:     logger,
		prop:       prop,
		refresher:  refresher,
		limiter:    httputil.NewClientRateLimiter(opts.FetchRate, opts.FetchBurst),
		trustProxy: opts.TrustProxy,
	}

	var meta stream.MetadataSource
	if refresher != nil {
		meta = refresher
	}
	var frames stream.FrameSource
	if opts.Cache != nil {
		frames = opts.Cache
	}
	streamHandler := stream.NewHandler(prop, frames, meta, stream.Config{
		MaxConcurrentPerIP: opts.StreamMaxPerIP,
		KeepaliveInterval:  opts.StreamKeepalive,
		TrustProxy:         opts.TrustProxy,
	}, logger)

	mux := http.NewServeMux()

	// Register routes.
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", ready.Readyz)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/store", s.handleSummary)
	mux.HandleFunc("DELETE /api/v1/store", s.handleClear)
	mux.HandleFunc("GET /api/v1/store/dump", s.handleDump)
	mux.HandleFunc("POST /api/v1/store/edit", s.handleEdit)
	mux.HandleFunc("GET /api/v1/satellites", s.handleSatellites)
	mux.HandleFunc("GET /api/v1/ephemeris/{sat}", s.handleEphemeris)
	mux.HandleFunc("GET /api/v1/state/{sat}", s.handleState)
	mux.HandleFunc("GET /api/v1/keyframe", s.handleKeyframe)
	mux.HandleFunc("GET /api/v1/passes", s.handlePasses)
	mux.HandleFunc("GET /api/v1/stream/keyframes", streamHandler.HandleKeyframes)
	mux.HandleFunc("POST /api/v1/ephemerides", s.handleIngest)
	mux.HandleFunc("POST /api/v1/tle/fetch", s.handleTLEFetch)
	mux.HandleFunc("GET /api/v1/tle/metadata", s.handleTLEMetadata)

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger, opts.TrustProxy)(handler)
	handler = metrics.Middleware(handler)

	// Request contexts end on Shutdown so open streams return.
	baseCtx, cancel := context.WithCancel(context.Background())
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	s.httpServer.RegisterOnShutdown(cancel)
	return s
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the full middleware chain, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// RunMaintenance forgets idle rate-limit clients until ctx is cancelled.
func (s *Server) RunMaintenance(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.limiter.Prune(10 * time.Minute); n > 0 {
				s.logger.Debug("pruned rate limiters", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

type requestIDKey struct{}

// requestID returns the id assigned by the logging middleware.
func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *slog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			id := r.Header.Get("X-Request-ID")
			if _, err := uuid.Parse(id); err != nil {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)
			r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", httputil.ClientIP(r, trustProxy),
			)
		})
	}
}
