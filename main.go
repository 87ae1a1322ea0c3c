package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cheahjs/og-image-proxy/internal/api"
	"github.com/cheahjs/og-image-proxy/internal/cache"
	"github.com/cheahjs/og-image-proxy/internal/config"
	"github.com/cheahjs/og-image-proxy/internal/extract"
	"github.com/cheahjs/og-image-proxy/internal/fetch"
	"github.com/cheahjs/og-image-proxy/internal/metrics"
	"github.com/cheahjs/og-image-proxy/internal/ogimage"
	"github.com/cheahjs/og-image-proxy/internal/optimize"
	"github.com/cheahjs/og-image-proxy/internal/resilience"
)

func main() {
	configPath := flag.String("config", os.Getenv("OGIMAGE_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	setupLogger(cfg)

	service, err := newService(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build image service")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var responseCache *cache.ResponseCache
	if cfg.Cache.Enabled {
		responseCache, err = cache.NewResponseCache(cfg.Cache.MaxEntries, cfg.Cache.DefaultTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create response cache")
		}
		go responseCache.RunCleanup(ctx, cfg.Cache.CleanupInterval)
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.NewRouter(service, responseCache, cfg.MetricsPath),
		ReadHeaderTimeout: 10 * time.Second,
		// Fetching the page and then the image each get the fetch timeout; leave room for both.
		WriteTimeout: 2*cfg.FetchTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Bool("cache", cfg.Cache.Enabled).Msg("Server is running")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}

func setupLogger(cfg config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func newService(cfg config.Config) (*ogimage.Service, error) {
	breaker := resilience.BreakerConfig{
		MaxRequests:      cfg.Breaker.MaxRequests,
		Interval:         cfg.Breaker.Interval,
		Timeout:          cfg.Breaker.Timeout,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		MinRequests:      cfg.Breaker.MinRequests,
	}
	fetchConfig := func(name string, maxBody int64, accept string) fetch.Config {
		fc := fetch.DefaultConfig(name)
		fc.Timeout = cfg.FetchTimeout
		fc.MaxBodySize = maxBody
		fc.MaxRedirects = cfg.MaxRedirects
		fc.UserAgent = cfg.UserAgent
		fc.Accept = accept
		fc.DenyPrivateIPs = cfg.DenyPrivateIPs
		fc.RequestsPerSecond = cfg.RateLimit.RPS
		fc.Burst = cfg.RateLimit.Burst
		fc.Breaker = breaker
		return fc
	}

	pages, err := fetch.New(fetchConfig("page", cfg.MaxPageBytes, "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8"))
	if err != nil {
		return nil, err
	}
	images, err := fetch.New(fetchConfig("image", cfg.MaxImageBytes, "image/webp,image/png,image/jpeg,image/gif,image/*;q=0.8"))
	if err != nil {
		return nil, err
	}

	opts := optimize.DefaultOptions()
	opts.JPEGQuality = cfg.JPEGQuality
	opts.WebPQuality = cfg.WebPQuality
	opts.MaxPixels = cfg.MaxImagePixels

	observer := ogimage.Observers{
		ogimage.NewLogObserver(log.Logger),
		metrics.Observer{},
	}
	return ogimage.NewService(extract.New(pages), optimize.New(images, opts), observer), nil
}
