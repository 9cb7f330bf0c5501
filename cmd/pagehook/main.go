// Package main provides the entry point for pagehook.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Rorqualx/pagehook/internal/browser"
	"github.com/Rorqualx/pagehook/internal/config"
	"github.com/Rorqualx/pagehook/internal/cookiejar"
	"github.com/Rorqualx/pagehook/internal/events"
	"github.com/Rorqualx/pagehook/internal/handlers"
	"github.com/Rorqualx/pagehook/internal/intercept"
	"github.com/Rorqualx/pagehook/internal/metrics"
	"github.com/Rorqualx/pagehook/internal/middleware"
	"github.com/Rorqualx/pagehook/internal/userscript"
	"github.com/Rorqualx/pagehook/pkg/version"
)

func main() {
	cfg := config.Load()

	// Logging first so validation warnings are visible.
	logFile := setupLogging(cfg)
	cfg.Validate()

	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("Starting pagehook")

	scripts, err := userscript.NewManager(cfg.ScriptsPath, cfg.ScriptsHotReload)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize user scripts")
	}

	opts := intercept.Options{
		MaxPerHost:     cfg.FetchMaxPerHost,
		MaxRedirects:   cfg.FetchMaxRedirects,
		ConnectTimeout: cfg.FetchConnectTimeout,
		ReadTimeout:    cfg.FetchReadTimeout,
		WaitTimeout:    cfg.FetchWaitTimeout,
		MaxBodyBytes:   cfg.FetchMaxBodyBytes,
	}
	if cfg.IgnoreCertErrors {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via IGNORE_CERT_ERRORS
	}
	dispatcher := intercept.NewDispatcher(opts, cookiejar.New(), scripts, nil, events.LogNotifier{})

	var (
		pool     *browser.Pool
		renderer *browser.Renderer
	)
	if cfg.RenderingEnabled() {
		log.Info().Int("size", cfg.BrowserPoolSize).Msg("Initializing browser pool...")
		pool, err = browser.NewPool(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize browser pool")
		}
		renderer = browser.NewRenderer(pool, dispatcher, cfg.StealthEnabled)
	}

	handler := handlers.New(dispatcher, scripts, renderer, cfg)

	chain := []func(http.Handler) http.Handler{
		middleware.Recovery,
		middleware.Logging,
		middleware.SecurityHeaders,
		middleware.CORS(cfg.CORSAllowedOrigins),
		middleware.APIKey(cfg),
	}
	var limiter *middleware.RateLimiter
	if cfg.RateLimitEnabled {
		log.Info().
			Int("requests_per_minute", cfg.RateLimitRPM).
			Bool("trust_proxy", cfg.TrustProxy).
			Msg("Rate limiting enabled")
		limiter = middleware.NewRateLimiter(cfg.RateLimitRPM, time.Minute, cfg.TrustProxy)
		chain = append(chain, limiter.Handler())
	}
	chain = append(chain, middleware.Timeout(cfg.MaxTimeout+10*time.Second))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           middleware.Chain(chain...)(handler),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.MaxTimeout + 20*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	stopCh := make(chan struct{})

	var metricsServer *http.Server
	if cfg.PrometheusEnabled {
		metrics.SetBuildInfo(version.Full(), version.GoVersion())
		go metrics.StartMemoryCollector(10*time.Second, stopCh)

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.PrometheusPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      10 * time.Second,
		}

		go func() {
			log.Info().Int("port", cfg.PrometheusPort).Msg("Prometheus metrics server started")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	go func() {
		log.Info().
			Str("address", addr).
			Int("pool_size", cfg.BrowserPoolSize).
			Int("scripts", len(scripts.Scripts())).
			Bool("metrics_enabled", cfg.PrometheusEnabled).
			Msg("pagehook is ready to accept requests")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	close(stopCh)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown error")
		}
	}
	if limiter != nil {
		limiter.Close()
	}

	// Pages go first so no bridge dispatches after the dispatcher drains.
	if pool != nil {
		ps := pool.Stats()
		log.Info().
			Int64("acquired", ps.Acquired).
			Int64("recycled", ps.Recycled).
			Int64("errors", ps.Errors).
			Msg("Browser pool stats")
		if err := pool.Close(); err != nil {
			log.Error().Err(err).Msg("Browser pool close error")
		}
	}
	dispatcher.Close()

	rs := scripts.Stats()
	log.Info().
		Int64("reload_count", rs.ReloadCount).
		Int("scripts", len(scripts.Scripts())).
		Str("last_error", rs.LastErrorStr).
		Msg("Scripts stats")
	if err := scripts.Close(); err != nil {
		log.Error().Err(err).Msg("Scripts manager close error")
	}

	log.Info().Msg("Shutdown complete")
	if logFile != nil {
		_ = logFile.Close()
	}
}

// setupLogging configures the global zerolog logger. With LOG_FILE set,
// JSON lines also go to a rotated file; the returned closer flushes it.
func setupLogging(cfg *config.Config) io.Closer {
	console := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	var (
		out    io.Writer = console
		closer io.Closer
	)
	if cfg.LogFile != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogFileMaxSizeMB,
			MaxBackups: cfg.LogFileMaxBackups,
			MaxAge:     14,
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(console, rotated)
		closer = rotated
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	return closer
}
