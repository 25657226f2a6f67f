// Package api provides the HTTP API for DriveProfile.
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/driveprofile/driveprofile/internal/api/handler"
	"github.com/driveprofile/driveprofile/internal/api/middleware"
	"github.com/driveprofile/driveprofile/internal/featureflags"
	"github.com/driveprofile/driveprofile/internal/provider/resilience"
	"github.com/driveprofile/driveprofile/internal/search"
)

// requestTimeout bounds plain HTTP requests. Websocket connections are
// mounted outside it.
const requestTimeout = 30 * time.Second

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	RequireTLS  bool

	// AdminToken guards /v1/admin. The admin routes are not mounted when it
	// is empty.
	AdminToken     string
	AllowedOrigins []string

	Sessions           *search.Store
	Places             handler.PlaceSearcher
	Provider           handler.ProviderHandle
	Directions         handler.DirectionsCache
	Geocache           handler.Counter
	Registry           *resilience.Registry
	FeatureFlagService *featureflags.Service
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Set default service name if not provided
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "driveprofile-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))         // Structured logging
	r.Use(middleware.Recovery(cfg.Logger))       // Panic recovery
	r.Use(chimiddleware.RealIP)                  // Real IP extraction
	r.Use(middleware.SecurityHeaders)            // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // TLS enforcement behind a load balancer
	r.Use(middleware.ContentTypeJSON)            // JSON content type

	var defaultProfile handler.DefaultProfileFunc
	if cfg.FeatureFlagService != nil {
		defaultProfile = cfg.FeatureFlagService.DefaultProfile
	}

	// Initialize handlers
	opsConfig := handler.OpsConfig{
		Version:    cfg.Version,
		BuildTime:  cfg.BuildTime,
		Provider:   cfg.Provider,
		Directions: cfg.Directions,
		Geocache:   cfg.Geocache,
		Registry:   cfg.Registry,
		Flags:      cfg.FeatureFlagService,
	}
	if cfg.Sessions != nil {
		opsConfig.Sessions = cfg.Sessions
	}
	opsHandler := handler.NewOpsHandler(opsConfig)
	profilesHandler := handler.NewProfilesHandler(defaultProfile)

	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit) // 100 req/min

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.With(standardRateLimit).Get("/status", opsHandler.SystemStatus)
		})

		r.With(standardRateLimit).Get("/profiles", profilesHandler.ListProfiles)

		if cfg.Places != nil {
			placesHandler := handler.NewPlacesHandler(cfg.Places, cfg.Logger)
			r.With(standardRateLimit, chimiddleware.Timeout(requestTimeout)).Get("/places", placesHandler.SearchPlaces)
		}

		if cfg.Sessions != nil {
			sessionsHandler := handler.NewSessionsHandler(cfg.Sessions, defaultProfile, cfg.Logger)
			socketHandler := handler.NewSessionSocketHandler(cfg.Sessions, handler.SocketConfig{
				AllowedOrigins: cfg.AllowedOrigins,
			}, cfg.Logger)

			r.Route("/sessions", func(r chi.Router) {
				r.With(standardRateLimit, middleware.RequireJSON).Post("/", sessionsHandler.CreateSession)

				r.Route("/{sessionId}", func(r chi.Router) {
					r.Use(middleware.RateLimitBySession(middleware.StandardRateLimit)) // 100 req/min per session

					// Long-lived; no request timeout.
					r.Get("/ws", socketHandler.Serve)

					r.Group(func(r chi.Router) {
						r.Use(chimiddleware.Timeout(requestTimeout))
						r.Use(middleware.RequireJSON)
						r.Get("/", sessionsHandler.GetSession)
						r.Delete("/", sessionsHandler.DeleteSession)
						r.Put("/profile", sessionsHandler.SetProfile)
						r.Put("/selection", sessionsHandler.SelectRoute)
						r.With(middleware.RateLimitBySession(middleware.SearchRateLimit)).
							Post("/search", sessionsHandler.Search) // 20 req/min per session
					})
				})
			})
		}

		// Admin endpoints (static bearer token) - for internal operations
		if cfg.AdminToken != "" && cfg.FeatureFlagService != nil {
			featureFlagsHandler := handler.NewFeatureFlagsHandler(cfg.FeatureFlagService, cfg.Logger)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.AdminToken(cfg.AdminToken))
				r.Use(standardRateLimit)
				r.Use(middleware.RequireJSON)

				// Feature flags management
				r.Route("/feature-flags", func(r chi.Router) {
					r.Get("/", featureFlagsHandler.ListFeatureFlags)
					r.Put("/", featureFlagsHandler.UpsertFeatureFlags)
					r.Post("/invalidate", featureFlagsHandler.InvalidateCache)
				})
			})
		}
	})

	return r
}
