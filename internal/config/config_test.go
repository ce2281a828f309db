package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/star/gnsseph/internal/ephstore"
	"github.com/star/gnsseph/internal/gnss"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ephd.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" || cfg.Store.Policy != "strict" || cfg.Propagation.Step != 5*time.Second {
		t.Errorf("unexpected defaults: %+v", cfg)
	}

	opts := cfg.StoreOptions()
	if opts.Policy != ephstore.PolicyStrict || opts.TimeSystem != gnss.TimeGPS || !opts.OnlyHealthy {
		t.Errorf("store options = %+v", opts)
	}
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TLE.MaxFiles != 5 {
		t.Errorf("max files = %d, want 5", cfg.TLE.MaxFiles)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := writeFile(t, `
log_level: debug
http:
  addr: ":9090"
store:
  policy: near
  retention: 48h
propagation:
  workers: 3
  step: 10s
tle:
  extra_urls:
    - https://example.org/a.txt
`)
	t.Setenv("EPH_HTTP_ADDR", ":7070")
	t.Setenv("EPH_STORE_ONLY_HEALTHY", "false")
	t.Setenv("EPH_TLE_EXTRA_URLS", "https://example.org/b.txt,https://example.org/c.txt")
	t.Setenv("EPH_PROP_HORIZON", "2m")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q, want debug", cfg.LogLevel)
	}
	if cfg.HTTP.Addr != ":7070" {
		t.Errorf("addr = %q, env should win over file", cfg.HTTP.Addr)
	}
	if cfg.Store.Policy != "near" || cfg.Store.Retention != 48*time.Hour {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Store.OnlyHealthy {
		t.Error("only_healthy should be false from env")
	}
	if cfg.Propagation.Workers != 3 || cfg.Propagation.Step != 10*time.Second || cfg.Propagation.Horizon != 2*time.Minute {
		t.Errorf("propagation = %+v", cfg.Propagation)
	}
	if got := strings.Join(cfg.TLE.ExtraURLs, " "); got != "https://example.org/b.txt https://example.org/c.txt" {
		t.Errorf("extra urls = %q", got)
	}
	if cfg.StoreOptions().Policy != ephstore.PolicyNear {
		t.Error("store options should carry the near policy")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"policy", "EPH_STORE_POLICY", "sideways", "key policy"},
		{"time system", "EPH_STORE_TIME_SYSTEM", "TAI", "time system"},
		{"log level", "EPH_LOG_LEVEL", "loud", "log level"},
		{"workers", "EPH_PROP_WORKERS", "0", "workers"},
		{"step", "EPH_PROP_STEP", "0s", "step"},
		{"auth", "EPH_AUTH_ENABLED", "true", "auth token"},
		{"duration syntax", "EPH_STORE_RETENTION", "a week", "environment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load("")
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := writeFile(t, "store: [not, a, map]\n")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}
