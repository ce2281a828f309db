package tle

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

// serve answers every request with status and body.
func serve(t *testing.T, status int, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestFetcherDefaultSource(t *testing.T) {
	if got := NewFetcher("", testLogger).SourceURL(); got != defaultSourceURL {
		t.Errorf("SourceURL = %q", got)
	}
}

func TestFetcherSources(t *testing.T) {
	tests := []struct {
		name    string
		primary func(t *testing.T) string
		extras  func(t *testing.T) []string
		wantIDs []int
		wantErr bool
	}{
		{
			name:    "primary only",
			primary: func(t *testing.T) string { return serve(t, http.StatusOK, gpsTLE) },
			extras:  func(*testing.T) []string { return nil },
			wantIDs: []int{24876},
		},
		{
			name:    "extras appended",
			primary: func(t *testing.T) string { return serve(t, http.StatusOK, gpsTLE) },
			extras: func(t *testing.T) []string {
				return []string{serve(t, http.StatusOK, galileoTLE), serve(t, http.StatusOK, issTLE)}
			},
			wantIDs: []int{24876, 37846, 25544},
		},
		{
			name: "missing trailing newline",
			primary: func(t *testing.T) string {
				return serve(t, http.StatusOK, strings.TrimSuffix(gpsTLE, "\n"))
			},
			extras:  func(t *testing.T) []string { return []string{serve(t, http.StatusOK, galileoTLE)} },
			wantIDs: []int{24876, 37846},
		},
		{
			name:    "failing extra skipped",
			primary: func(t *testing.T) string { return serve(t, http.StatusOK, galileoTLE) },
			extras: func(t *testing.T) []string {
				return []string{serve(t, http.StatusBadGateway, ""), "http://127.0.0.1:1/unreachable"}
			},
			wantIDs: []int{37846},
		},
		{
			name:    "failing primary",
			primary: func(t *testing.T) string { return serve(t, http.StatusInternalServerError, "") },
			extras:  func(t *testing.T) []string { return []string{serve(t, http.StatusOK, gpsTLE)} },
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFetcher(tt.primary(t), testLogger, tt.extras(t)...)
			data, err := f.Fetch(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			entries, err := Parse(strings.NewReader(string(data)), testLogger)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if len(entries) != len(tt.wantIDs) {
				t.Fatalf("got %d entries, want %d", len(entries), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if entries[i].NORADID != id {
					t.Errorf("entry %d = %d, want %d", i, entries[i].NORADID, id)
				}
			}
		})
	}
}

func TestFetcherBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chunk := []byte(strings.Repeat("0", 1<<20))
		for i := 0; i <= maxBodyBytes>>20; i++ {
			if _, err := w.Write(chunk); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	_, err := NewFetcher(srv.URL, testLogger).Fetch(context.Background())
	if err == nil || !strings.Contains(err.Error(), "byte limit") {
		t.Fatalf("err = %v, want byte limit error", err)
	}
}

func TestFetcherCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewFetcher(serve(t, http.StatusOK, gpsTLE), testLogger).Fetch(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
