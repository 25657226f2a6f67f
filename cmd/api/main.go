// Package main provides the entrypoint for the DriveProfile API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/driveprofile/driveprofile/internal/api"
	"github.com/driveprofile/driveprofile/internal/api/middleware"
	"github.com/driveprofile/driveprofile/internal/config"
	"github.com/driveprofile/driveprofile/internal/database"
	"github.com/driveprofile/driveprofile/internal/featureflags"
	"github.com/driveprofile/driveprofile/internal/geocoding"
	"github.com/driveprofile/driveprofile/internal/geocoding/nominatim"
	"github.com/driveprofile/driveprofile/internal/provider/resilience"
	"github.com/driveprofile/driveprofile/internal/routing"
	"github.com/driveprofile/driveprofile/internal/routing/openrouteservice"
	"github.com/driveprofile/driveprofile/internal/search"
	"github.com/driveprofile/driveprofile/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags. Environment
// values take precedence when set.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "driveprofile-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.Version == "dev" {
		cfg.Version = Version
	}
	if cfg.BuildTime == "" {
		cfg.BuildTime = BuildTime
	}

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		Level(cfg.Level()).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", cfg.Version).
		Logger()

	log.Info().
		Str("build_time", cfg.BuildTime).
		Str("env", cfg.Environment).
		Msg("starting DriveProfile API")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("server failed")
		os.Exit(1) //nolint:gocritic // deferred stop only releases the signal handler
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	// Initialize OpenTelemetry
	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()
	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	httpMetrics, err := middleware.NewMetrics()
	if err != nil {
		return fmt.Errorf("initialize http metrics: %w", err)
	}
	searchMetrics, err := search.NewMetrics()
	if err != nil {
		return fmt.Errorf("initialize search metrics: %w", err)
	}

	// Feature flags: Postgres when configured, otherwise process memory
	ffRepo, closeDB, err := newFlagRepository(ctx, log)
	if err != nil {
		return err
	}
	defer closeDB()

	ffService := featureflags.NewService(featureflags.ServiceConfig{
		Repository: ffRepo,
		Logger:     log,
		CacheTTL:   1 * time.Minute,
	})
	log.Info().Msg("feature flags service initialized")

	registry := resilience.NewRegistry()

	// Routing provider, built on first use
	handle := routing.NewHandle(openrouteservice.ProviderName, func(context.Context) (routing.Provider, error) {
		if cfg.Routing.ORSAPIKey == "" {
			return nil, errors.New("ORS_API_KEY is not set")
		}
		return openrouteservice.NewClient(openrouteservice.ClientConfig{
			APIKey:   cfg.Routing.ORSAPIKey,
			BaseURL:  cfg.Routing.ORSBaseURL,
			Timeout:  cfg.Routing.Timeout,
			Registry: registry,
			Logger:   log,
		}), nil
	})
	if cfg.Routing.ORSAPIKey == "" {
		log.Warn().Msg("ORS_API_KEY not set - searches will fail until it is configured")
	}

	directions := routing.NewService(routing.ServiceConfig{
		Provider:        handle,
		Logger:          log,
		CacheTTL:        cfg.Routing.CacheTTL,
		StaleIfErrorTTL: cfg.Routing.StaleTTL,
		ServeStale:      ffService.ServeStaleDirections,
	})

	// Geocoding
	geocoder := nominatim.NewClient(nominatim.ClientConfig{
		BaseURL:      cfg.Geocoding.BaseURL,
		UserAgent:    cfg.Geocoding.UserAgent,
		CountryCodes: cfg.Geocoding.CountryCodes,
		MinInterval:  cfg.Geocoding.MinInterval,
		Registry:     registry,
		Logger:       log,
	})
	cachedGeocoder, err := geocoding.NewCachingGeocoder(geocoder, geocoding.CacheConfig{
		Size:   cfg.Geocoding.CacheSize,
		Bypass: ffService.GeocodeCacheDisabled,
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("initialize geocode cache: %w", err)
	}

	// Search sessions
	searcher := search.NewService(search.ServiceConfig{
		Geocoder:        cachedGeocoder,
		Directions:      directions,
		MaxAlternatives: ffService.MaxAlternatives,
		Metrics:         searchMetrics,
		Logger:          log,
	})
	sessions := search.NewStore(search.StoreConfig{
		Searcher:    searcher,
		TTL:         cfg.Sessions.TTL,
		MaxSessions: cfg.Sessions.MaxSessions,
		Metrics:     searchMetrics,
		Logger:      log,
	})
	defer sessions.Close()

	if cfg.AdminToken == "" {
		log.Warn().Msg("ADMIN_TOKEN not set - admin endpoints are disabled")
	}

	// Create router with configuration
	router := api.NewRouter(api.RouterConfig{
		Version:            cfg.Version,
		BuildTime:          cfg.BuildTime,
		Logger:             log,
		ServiceName:        serviceName,
		Metrics:            httpMetrics,
		RequireTLS:         cfg.RequireTLS,
		AdminToken:         cfg.AdminToken,
		AllowedOrigins:     cfg.AllowedOrigins,
		Sessions:           sessions,
		Places:             geocoder,
		Provider:           handle,
		Directions:         directions,
		Geocache:           cachedGeocoder,
		Registry:           registry,
		FeatureFlagService: ffService,
	})

	// Create HTTP server. WriteTimeout stays unset so websocket connections
	// are not cut off; plain requests are bounded by the router.
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// newFlagRepository connects to Postgres when DB_HOST is set and falls back
// to an in-memory repository otherwise.
func newFlagRepository(ctx context.Context, log zerolog.Logger) (featureflags.Repository, func(), error) {
	dbConfig, err := database.ConfigFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("parse database config: %w", err)
	}
	if !dbConfig.Enabled() {
		log.Info().Msg("DB_HOST not set - feature flags kept in memory")
		return featureflags.NewInMemoryRepository(), func() {}, nil
	}

	pool, err := database.Connect(ctx, dbConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Info().
		Str("host", dbConfig.Host).
		Int("port", dbConfig.Port).
		Str("database", dbConfig.Database).
		Msg("database connected")

	repo := featureflags.NewPostgresRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ensure feature flag schema: %w", err)
	}
	return repo, pool.Close, nil
}
