package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/star/gnsseph/internal/api"
	"github.com/star/gnsseph/internal/auth"
	"github.com/star/gnsseph/internal/cache"
	"github.com/star/gnsseph/internal/config"
	"github.com/star/gnsseph/internal/ephstore"
	"github.com/star/gnsseph/internal/health"
	"github.com/star/gnsseph/internal/propagation"
	"github.com/star/gnsseph/internal/tle"
)

func main() {
	configPath := flag.String("config", os.Getenv("EPH_CONFIG"), "path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	store := ephstore.New(cfg.StoreOptions())
	propCfg := propagation.PropConfig{
		Workers: cfg.Propagation.Workers,
		Step:    cfg.Propagation.Step,
		Horizon: cfg.Propagation.Horizon,
	}
	prop := propagation.NewPropagator(store, propCfg, logger)
	logger.Info("store config",
		"name", cfg.Store.Name,
		"policy", store.Policy().String(),
		"only_healthy", cfg.Store.OnlyHealthy,
		"time_system", store.TimeSystem().String(),
		"retention_hours", cfg.Store.Retention.Hours(),
		"workers", propCfg.Workers,
	)

	var refresher *tle.Refresher
	if cfg.TLE.EnableFetch {
		fetcher := tle.NewFetcher(cfg.TLE.SourceURL, logger, cfg.TLE.ExtraURLs...)
		tleCache := tle.NewCache(cfg.TLE.CacheDir, cfg.TLE.MaxFiles)
		refresher = tle.NewRefresher(fetcher, tleCache, prop, tle.RefresherConfig{
			Interval:   cfg.TLE.Interval,
			Fit:        cfg.TLE.Fit,
			MaxRetries: cfg.TLE.MaxRetries,
		}, logger)
		logger.Info("TLE config",
			"source_url", fetcher.SourceURL(),
			"extra_urls", cfg.TLE.ExtraURLs,
			"cache_dir", cfg.TLE.CacheDir,
			"interval", cfg.TLE.Interval.String(),
		)
	}

	kfCache := cache.NewKeyframeCache(prop, cfg.Propagation.CacheBuffer, logger)

	var ready health.Readiness
	authCfg := auth.Config{Enabled: cfg.Auth.Enabled, Token: cfg.Auth.Token}
	srv := api.NewServer(cfg.HTTP.Addr, logger, authCfg, prop, refresher, &ready, api.Options{
		TrustProxy:      cfg.HTTP.TrustProxy,
		FetchRate:       cfg.HTTP.FetchRate,
		FetchBurst:      cfg.HTTP.FetchBurst,
		StreamMaxPerIP:  cfg.Stream.MaxPerIP,
		StreamKeepalive: cfg.Stream.Keepalive,
		Cache:           kfCache,
	})

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting server", "addr", cfg.HTTP.Addr, "auth_enabled", authCfg.Enabled, "tle_fetch_enabled", cfg.TLE.EnableFetch)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	if refresher != nil {
		// Attempt to load cached TLE data on startup, then fetch fresh data.
		if _, err := refresher.LoadCached(); err != nil {
			logger.Info("no usable TLE cache, starting without TLE data", "error", err)
		}
		go func() {
			if _, err := refresher.Refresh(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("initial TLE fetch failed", "error", err)
			}
			refresher.Run(ctx)
		}()
	}
	ready.MarkReady()

	go kfCache.Start(ctx)
	go srv.RunMaintenance(ctx)
	go runRetention(ctx, prop, cfg.Store.Retention, cfg.Store.RetentionEvery, propCfg.Horizon, logger)

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// runRetention periodically narrows the store to [now-retention, now+horizon].
func runRetention(ctx context.Context, prop *propagation.Propagator, retention, every, horizon time.Duration, logger *slog.Logger) {
	if retention <= 0 || every <= 0 {
		logger.Info("retention disabled")
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now().UTC()
			if s := prop.Summary(); s.Records == 0 {
				continue
			}
			// Element sets may be published ahead of time; keep at least a day of them.
			ahead := max(horizon, 24*time.Hour)
			prop.Edit(now.Add(-retention), now.Add(ahead))
		case <-ctx.Done():
			return
		}
	}
}
