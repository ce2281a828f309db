// Package config loads the ephd configuration from defaults, an optional
// YAML file, a .env file and EPH_ environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/star/gnsseph/internal/ephstore"
	"github.com/star/gnsseph/internal/gnss"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "EPH_"

// Config holds all service configuration.
type Config struct {
	LogLevel    string            `yaml:"log_level" env:"LOG_LEVEL"`
	HTTP        HTTPConfig        `yaml:"http" envPrefix:"HTTP_"`
	Stream      StreamConfig      `yaml:"stream" envPrefix:"STREAM_"`
	Auth        AuthConfig        `yaml:"auth" envPrefix:"AUTH_"`
	Store       StoreConfig       `yaml:"store" envPrefix:"STORE_"`
	Propagation PropagationConfig `yaml:"propagation" envPrefix:"PROP_"`
	TLE         TLEConfig         `yaml:"tle" envPrefix:"TLE_"`
}

// HTTPConfig contains listener and client handling settings.
type HTTPConfig struct {
	Addr       string  `yaml:"addr" env:"ADDR"`
	TrustProxy bool    `yaml:"trust_proxy" env:"TRUST_PROXY"`
	FetchRate  float64 `yaml:"fetch_rate" env:"FETCH_RATE"` // manual TLE fetches per minute per client
	FetchBurst int     `yaml:"fetch_burst" env:"FETCH_BURST"`
}

// StreamConfig bounds the SSE keyframe stream.
type StreamConfig struct {
	MaxPerIP  int           `yaml:"max_per_ip" env:"MAX_PER_IP"`
	Keepalive time.Duration `yaml:"keepalive" env:"KEEPALIVE"`
}

// AuthConfig enables bearer-token auth on mutating routes.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Token   string `yaml:"token" env:"TOKEN"`
}

// StoreConfig configures the ephemeris store and its retention window.
type StoreConfig struct {
	Name        string `yaml:"name" env:"NAME"`
	Policy      string `yaml:"policy" env:"POLICY"`
	OnlyHealthy bool   `yaml:"only_healthy" env:"ONLY_HEALTHY"`
	TimeSystem  string `yaml:"time_system" env:"TIME_SYSTEM"`

	// Retention drops records keyed before now-Retention; zero keeps everything.
	Retention      time.Duration `yaml:"retention" env:"RETENTION"`
	RetentionEvery time.Duration `yaml:"retention_every" env:"RETENTION_EVERY"`
}

// PropagationConfig sizes the worker pool and keyframe grid.
type PropagationConfig struct {
	Workers     int           `yaml:"workers" env:"WORKERS"`
	Step        time.Duration `yaml:"step" env:"STEP"`
	Horizon     time.Duration `yaml:"horizon" env:"HORIZON"`
	CacheBuffer time.Duration `yaml:"cache_buffer" env:"CACHE_BUFFER"`
}

// TLEConfig configures the element-set refresher.
type TLEConfig struct {
	EnableFetch bool          `yaml:"enable_fetch" env:"ENABLE_FETCH"`
	SourceURL   string        `yaml:"source_url" env:"SOURCE_URL"`
	ExtraURLs   []string      `yaml:"extra_urls" env:"EXTRA_URLS" envSeparator:","`
	CacheDir    string        `yaml:"cache_dir" env:"CACHE_DIR"`
	MaxFiles    int           `yaml:"max_files" env:"MAX_FILES"`
	Interval    time.Duration `yaml:"interval" env:"INTERVAL"`
	Fit         time.Duration `yaml:"fit" env:"FIT"`
	MaxRetries  uint64        `yaml:"max_retries" env:"MAX_RETRIES"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:       ":8080",
			FetchRate:  2,
			FetchBurst: 1,
		},
		Stream: StreamConfig{
			MaxPerIP:  10,
			Keepalive: 30 * time.Second,
		},
		Store: StoreConfig{
			Name:           "OrbitEphStore",
			Policy:         "strict",
			OnlyHealthy:    true,
			TimeSystem:     "GPS",
			Retention:      7 * 24 * time.Hour,
			RetentionEvery: time.Hour,
		},
		Propagation: PropagationConfig{
			Workers:     runtime.NumCPU(),
			Step:        5 * time.Second,
			Horizon:     600 * time.Second,
			CacheBuffer: time.Minute,
		},
		TLE: TLEConfig{
			EnableFetch: true,
			SourceURL:   "https://celestrak.org/NORAD/elements/gp.php?GROUP=gnss&FORMAT=tle",
			CacheDir:    "/tmp/gnsseph/tle",
			MaxFiles:    5,
			Interval:    6 * time.Hour,
			Fit:         3 * 24 * time.Hour,
			MaxRetries:  5,
		},
	}
}

// Load builds the configuration. A missing file at path leaves the defaults
// in place; an empty path skips the file layer.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}

	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be expressed in the field types.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := ephstore.ParseKeyPolicy(c.Store.Policy); err != nil {
		errs = append(errs, err)
	}
	if _, err := gnss.ParseTimeSystem(c.Store.TimeSystem); err != nil {
		errs = append(errs, err)
	}
	if c.Auth.Enabled && c.Auth.Token == "" {
		errs = append(errs, errors.New("auth token is required when auth is enabled"))
	}
	if c.Propagation.Workers < 1 {
		errs = append(errs, fmt.Errorf("propagation workers must be at least 1, got %d", c.Propagation.Workers))
	}
	if c.Propagation.Step <= 0 {
		errs = append(errs, fmt.Errorf("keyframe step must be positive, got %s", c.Propagation.Step))
	}
	if c.Propagation.Horizon < 0 {
		errs = append(errs, fmt.Errorf("keyframe horizon must not be negative, got %s", c.Propagation.Horizon))
	}
	if c.Store.Retention < 0 {
		errs = append(errs, fmt.Errorf("retention must not be negative, got %s", c.Store.Retention))
	}
	if c.HTTP.FetchRate <= 0 || c.HTTP.FetchBurst < 1 {
		errs = append(errs, fmt.Errorf("fetch rate limit must be positive, got %g/min burst %d", c.HTTP.FetchRate, c.HTTP.FetchBurst))
	}
	if c.Stream.MaxPerIP < 1 || c.Stream.Keepalive <= 0 {
		errs = append(errs, fmt.Errorf("stream limits must be positive, got %d per ip keepalive %s", c.Stream.MaxPerIP, c.Stream.Keepalive))
	}
	return errors.Join(errs...)
}

// StoreOptions converts the store section for ephstore.New. Call after Validate.
func (c *Config) StoreOptions() ephstore.Options {
	policy, _ := ephstore.ParseKeyPolicy(c.Store.Policy)
	ts, _ := gnss.ParseTimeSystem(c.Store.TimeSystem)
	return ephstore.Options{
		Name:        c.Store.Name,
		Policy:      policy,
		OnlyHealthy: c.Store.OnlyHealthy,
		TimeSystem:  ts,
	}
}

// ParseLevel maps debug/info/warn/error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
