package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnsseph_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gnsseph_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	ingestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnsseph_ingest_total",
			Help: "Ephemeris records offered to the store, by outcome.",
		},
		[]string{"outcome"},
	)

	storeRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gnsseph_store_records",
		Help: "Number of ephemeris records currently stored.",
	})

	storeSatellites = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gnsseph_store_satellites",
		Help: "Number of satellite tables in the store.",
	})

	storeEvictedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gnsseph_store_evicted_total",
		Help: "Records removed by range edits.",
	})

	lookupTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnsseph_lookup_total",
			Help: "Ephemeris lookups by method and result.",
		},
		[]string{"method", "result"},
	)

	propagationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gnsseph_propagation_duration_seconds",
		Help:    "Time to compute one keyframe for every satellite.",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	propagationSatellites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnsseph_propagation_satellites_total",
			Help: "Satellite states computed for keyframes, by result.",
		},
		[]string{"result"},
	)

	tleRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnsseph_tle_refresh_total",
			Help: "TLE refresh attempts by result.",
		},
		[]string{"result"},
	)

	tleLastRefresh = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gnsseph_tle_last_refresh_timestamp_seconds",
		Help: "Unix time of the last successful TLE refresh.",
	})

	streamConnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnsseph_stream_connections_total",
			Help: "Keyframe stream connects and disconnects.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gnsseph_streams_active",
		Help: "Open keyframe streams.",
	})

	streamMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gnsseph_stream_messages_total",
		Help: "SSE data messages sent.",
	})

	streamBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gnsseph_stream_bytes_total",
		Help: "Bytes written to keyframe streams.",
	})

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnsseph_keyframe_cache_lookups_total",
			Help: "Keyframe cache lookups by result.",
		},
		[]string{"result"},
	)

	cacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gnsseph_keyframe_cache_evictions_total",
		Help: "Keyframes evicted from the trailing edge.",
	})

	cacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gnsseph_keyframe_cache_entries",
		Help: "Keyframes currently cached.",
	})

	cacheSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gnsseph_keyframe_cache_size_bytes",
		Help: "Estimated keyframe cache memory footprint.",
	})

	cacheRegenErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gnsseph_keyframe_cache_regeneration_errors_total",
		Help: "Failed keyframe generations.",
	})

	cacheRegenDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gnsseph_keyframe_cache_regeneration_duration_seconds",
		Help:    "Time to generate a leading edge keyframe or rebuild the window.",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
	})

	cacheRebuilding = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gnsseph_keyframe_cache_rebuilding",
		Help: "1 while the keyframe window is being rebuilt after a store change.",
	})

	streamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnsseph_stream_errors_total",
			Help: "Keyframe stream errors by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		ingestTotal,
		storeRecords,
		storeSatellites,
		storeEvictedTotal,
		lookupTotal,
		propagationDuration,
		propagationSatellites,
		tleRefreshTotal,
		tleLastRefresh,
		streamConnections,
		streamsActive,
		streamMessages,
		streamBytes,
		streamErrors,
		cacheLookups,
		cacheEvictions,
		cacheEntries,
		cacheSizeBytes,
		cacheRegenErrors,
		cacheRegenDuration,
		cacheRebuilding,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordIngest counts one ingest outcome ("inserted", "replaced", "duplicate", "conflict", "error").
func RecordIngest(outcome string) {
	ingestTotal.WithLabelValues(outcome).Inc()
}

// RecordIngestN counts n records with the same outcome.
func RecordIngestN(outcome string, n int) {
	if n > 0 {
		ingestTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// SetStoreSize publishes the current record and satellite counts.
func SetStoreSize(records, satellites int) {
	storeRecords.Set(float64(records))
	storeSatellites.Set(float64(satellites))
}

// RecordEvicted counts records dropped by an edit.
func RecordEvicted(n int) {
	storeEvictedTotal.Add(float64(n))
}

// RecordLookup counts one lookup. result is "found", "not_found", "unknown" or "error".
func RecordLookup(method, result string) {
	lookupTotal.WithLabelValues(method, result).Inc()
}

// RecordPropagation records one keyframe computation.
func RecordPropagation(d time.Duration, success, failed int) {
	propagationDuration.Observe(d.Seconds())
	propagationSatellites.WithLabelValues("success").Add(float64(success))
	propagationSatellites.WithLabelValues("error").Add(float64(failed))
}

// RecordTLERefresh counts a refresh attempt; a successful one also stamps
// the last-refresh gauge.
func RecordTLERefresh(ok bool, at time.Time) {
	if !ok {
		tleRefreshTotal.WithLabelValues("error").Inc()
		return
	}
	tleRefreshTotal.WithLabelValues("success").Inc()
	tleLastRefresh.Set(float64(at.Unix()))
}

// IncStreamConnections counts a stream "connect" or "disconnect".
func IncStreamConnections(event string) {
	streamConnections.WithLabelValues(event).Inc()
}

func IncStreamsActive() { streamsActive.Inc() }
func DecStreamsActive() { streamsActive.Dec() }

func IncStreamMessages() { streamMessages.Inc() }

func AddStreamBytes(n int64) {
	streamBytes.Add(float64(n))
}

// IncStreamErrors counts a stream error ("rate_limit", "no_data", "marshal_error", "send_error").
func IncStreamErrors(reason string) {
	streamErrors.WithLabelValues(reason).Inc()
}

func IncCacheHits()   { cacheLookups.WithLabelValues("hit").Inc() }
func IncCacheMisses() { cacheLookups.WithLabelValues("miss").Inc() }

func AddCacheEvictions(n int) {
	cacheEvictions.Add(float64(n))
}

func SetCacheEntries(n int) {
	cacheEntries.Set(float64(n))
}

func SetCacheSizeBytes(n int64) {
	cacheSizeBytes.Set(float64(n))
}

func IncCacheRegenerationErrors() {
	cacheRegenErrors.Inc()
}

func ObserveCacheRegenerationDuration(d time.Duration) {
	cacheRegenDuration.Observe(d.Seconds())
}

// SetCacheGracePeriodActive flags a window rebuild in progress.
func SetCacheGracePeriodActive(active bool) {
	if active {
		cacheRebuilding.Set(1)
		return
	}
	cacheRebuilding.Set(0)
}

// knownRoutes are reported with their own path label.
var knownRoutes = map[string]bool{
	"/":                        true,
	"/healthz":                 true,
	"/readyz":                  true,
	"/metrics":                 true,
	"/api/v1/store":            true,
	"/api/v1/store/dump":       true,
	"/api/v1/store/edit":       true,
	"/api/v1/satellites":       true,
	"/api/v1/ephemerides":      true,
	"/api/v1/keyframe":         true,
	"/api/v1/passes":           true,
	"/api/v1/stream/keyframes": true,
	"/api/v1/tle/fetch":        true,
	"/api/v1/tle/metadata":     true,
}

// parameterized maps a route prefix to the label used for every satellite.
var parameterized = []struct {
	prefix string
	label  string
}{
	{"/api/v1/ephemeris/", "/api/v1/ephemeris/{sat}"},
	{"/api/v1/state/", "/api/v1/state/{sat}"},
}

// normalizeRoute bounds the path label cardinality: satellite routes collapse
// to one label each and unknown paths become "other".
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	for _, p := range parameterized {
		if rest, ok := strings.CutPrefix(path, p.prefix); ok && rest != "" && !strings.Contains(rest, "/") {
			return p.label
		}
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the flusher of long-lived streams.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		path := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(path, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(path, r.Method).Observe(duration)
	})
}
