// Package health serves the liveness and readiness probes.
package health

import (
	"net/http"
	"sync/atomic"
)

// Healthz returns 200 "ok\n" unconditionally.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// Readiness flips to ready once startup loading has finished.
type Readiness struct {
	ready atomic.Bool
}

// MarkReady records that the service can answer queries.
func (r *Readiness) MarkReady() { r.ready.Store(true) }

// Ready reports the current state.
func (r *Readiness) Ready() bool { return r.ready.Load() }

// Readyz returns 200 "ready\n" once MarkReady has been called and 503 before.
func (r *Readiness) Readyz(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if !r.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready\n"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready\n"))
}
