// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

const minAdminTokenLength = 16

// Config is the API server configuration.
type Config struct {
	Port        int    `env:"APP_PORT" envDefault:"8080"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Version     string `env:"APP_VERSION" envDefault:"dev"`
	BuildTime   string `env:"APP_BUILD_TIME"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	RequireTLS      bool          `env:"REQUIRE_TLS" envDefault:"false"`
	AllowedOrigins  []string      `env:"WS_ALLOWED_ORIGINS" envSeparator:","`

	// AdminToken guards the admin endpoints; empty disables them.
	AdminToken string `env:"ADMIN_TOKEN"`

	Routing   RoutingConfig
	Geocoding GeocodingConfig
	Sessions  SessionConfig
	Telemetry TelemetryConfig
}

// RoutingConfig configures the directions provider.
type RoutingConfig struct {
	ORSAPIKey  string        `env:"ORS_API_KEY"`
	ORSBaseURL string        `env:"ORS_BASE_URL" envDefault:"https://api.openrouteservice.org"`
	Timeout    time.Duration `env:"ORS_TIMEOUT" envDefault:"10s"`
	CacheTTL   time.Duration `env:"ROUTING_CACHE_TTL" envDefault:"5m"`
	StaleTTL   time.Duration `env:"ROUTING_STALE_TTL" envDefault:"15m"`
}

// GeocodingConfig configures the geocoder.
type GeocodingConfig struct {
	BaseURL      string        `env:"NOMINATIM_BASE_URL" envDefault:"https://nominatim.openstreetmap.org"`
	UserAgent    string        `env:"NOMINATIM_USER_AGENT" envDefault:"DriveProfile/1.0"`
	CountryCodes string        `env:"NOMINATIM_COUNTRY_CODES"`
	MinInterval  time.Duration `env:"NOMINATIM_MIN_INTERVAL" envDefault:"1s"`
	CacheSize    int           `env:"GEOCODE_CACHE_SIZE" envDefault:"1024"`
}

// SessionConfig bounds the in-memory session store.
type SessionConfig struct {
	TTL         time.Duration `env:"SESSION_TTL" envDefault:"30m"`
	MaxSessions int           `env:"SESSION_MAX" envDefault:"10000"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env parsing cannot.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT %d out of range", c.Port))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if c.Geocoding.CacheSize < 0 {
		errs = append(errs, errors.New("GEOCODE_CACHE_SIZE must not be negative"))
	}
	if c.AdminToken != "" && len(c.AdminToken) < minAdminTokenLength {
		errs = append(errs, fmt.Errorf("ADMIN_TOKEN must be at least %d characters", minAdminTokenLength))
	}
	if c.Sessions.TTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the service runs in production.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// Level returns the parsed log level, defaulting to info.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
