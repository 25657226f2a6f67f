package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mmcloughlin/geohash"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ServiceConfig holds configuration for the routing service.
type ServiceConfig struct {
	// Provider is the routing data provider.
	Provider Provider

	// Logger for service operations.
	Logger zerolog.Logger

	// CacheTTL is how long to cache directions (default: 5 minutes).
	CacheTTL time.Duration

	// GeohashPrecision is the geohash length used to bucket endpoints in the
	// cache key (default: 7, roughly 150m cells).
	GeohashPrecision uint

	// StaleIfErrorTTL allows serving stale data on provider errors (default: 15 minutes).
	StaleIfErrorTTL time.Duration

	// ServeStale reports whether stale data may be served on provider errors.
	// If nil, stale data is always allowed.
	ServeStale func(ctx context.Context) bool

	// CleanupInterval is how often to clean up expired entries (default: 5 minutes).
	CleanupInterval time.Duration

	// FetchTimeout bounds one shared provider call (default: 30 seconds).
	// The call outlives any single caller's context.
	FetchTimeout time.Duration
}

// Service provides directions with caching and stale-if-error fallback.
type Service struct {
	provider         Provider
	logger           zerolog.Logger
	cacheTTL         time.Duration
	geohashPrecision uint
	staleIfErrorTTL  time.Duration
	serveStale       func(ctx context.Context) bool
	cleanupInterval  time.Duration
	fetchTimeout     time.Duration

	mu          sync.RWMutex
	cache       map[string]*cachedDirections
	lastCleanup time.Time

	inflight singleflight.Group
}

type cachedDirections struct {
	response  *DirectionsResponse
	fetchedAt time.Time
	expiresAt time.Time
}

// NewService creates a new routing service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Minute
	}

	precision := cfg.GeohashPrecision
	if precision == 0 {
		precision = 7
	}

	staleIfErrorTTL := cfg.StaleIfErrorTTL
	if staleIfErrorTTL == 0 {
		staleIfErrorTTL = 15 * time.Minute
	}

	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = 5 * time.Minute
	}

	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout == 0 {
		fetchTimeout = 30 * time.Second
	}

	serveStale := cfg.ServeStale
	if serveStale == nil {
		serveStale = func(context.Context) bool { return true }
	}

	return &Service{
		provider:         cfg.Provider,
		logger:           cfg.Logger,
		cacheTTL:         cacheTTL,
		geohashPrecision: precision,
		staleIfErrorTTL:  staleIfErrorTTL,
		serveStale:       serveStale,
		cleanupInterval:  cleanupInterval,
		fetchTimeout:     fetchTimeout,
		cache:            make(map[string]*cachedDirections),
	}
}

// GetDirections returns candidate routes between two points.
// Uses cached data if available and not expired.
func (s *Service) GetDirections(ctx context.Context, req DirectionsRequest) (*DirectionsResponse, error) {
	if err := req.Origin.Validate(); err != nil {
		return nil, &Error{
			Provider: s.provider.Name(),
			Code:     "INVALID_ORIGIN",
			Message:  "invalid origin coordinates",
			Err:      ErrInvalidCoordinates,
		}
	}
	if err := req.Destination.Validate(); err != nil {
		return nil, &Error{
			Provider: s.provider.Name(),
			Code:     "INVALID_DESTINATION",
			Message:  "invalid destination coordinates",
			Err:      ErrInvalidCoordinates,
		}
	}

	cacheKey := s.cacheKey(req)

	s.mu.RLock()
	if cached, ok := s.cache[cacheKey]; ok && time.Now().Before(cached.expiresAt) {
		s.mu.RUnlock()
		s.logger.Debug().
			Str("cache_key", cacheKey).
			Msg("cache hit for directions")
		return cached.response, nil
	}
	s.mu.RUnlock()

	// Concurrent misses for the same key share one provider call. The call
	// runs detached from the caller that started it, so one caller going
	// away does not fail the others; each caller stops waiting on its own
	// context.
	ch := s.inflight.DoChan(cacheKey, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()
		resp, err := s.fetchDirections(fetchCtx, req, cacheKey)
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{
				Provider: s.provider.Name(),
				Code:     "TIMEOUT",
				Message:  "routing provider did not answer in time",
				Err:      fmt.Errorf("%w: %w", ErrProviderUnavailable, err),
			}
		}
		return resp, err
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*DirectionsResponse), nil
	}
}

// fetchDirections fetches directions from the provider and updates the cache.
func (s *Service) fetchDirections(ctx context.Context, req DirectionsRequest, cacheKey string) (*DirectionsResponse, error) {
	s.logger.Debug().
		Float64("origin_lat", req.Origin.Lat).
		Float64("origin_lon", req.Origin.Lon).
		Float64("dest_lat", req.Destination.Lat).
		Float64("dest_lon", req.Destination.Lon).
		Int("max_alternatives", req.MaxAlternatives).
		Str("provider", s.provider.Name()).
		Msg("fetching directions from provider")

	resp, err := s.provider.GetDirections(ctx, req)
	if err != nil {
		s.logger.Error().Err(err).
			Str("cache_key", cacheKey).
			Str("provider", s.provider.Name()).
			Msg("failed to fetch directions")

		if stale := s.staleResponse(ctx, cacheKey); stale != nil {
			return stale, nil
		}
		return nil, err
	}

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache[cacheKey] = &cachedDirections{
		response:  resp,
		fetchedAt: now,
		expiresAt: now.Add(s.cacheTTL),
	}

	s.logger.Debug().
		Str("cache_key", cacheKey).
		Int("route_count", len(resp.Routes)).
		Msg("cached directions response")

	s.cleanupIfNeeded(now)

	return resp, nil
}

// staleResponse returns a cached response still inside the stale-if-error window.
func (s *Service) staleResponse(ctx context.Context, cacheKey string) *DirectionsResponse {
	if !s.serveStale(ctx) {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cached, ok := s.cache[cacheKey]
	if !ok || time.Now().After(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
		return nil
	}

	s.logger.Warn().
		Time("fetched_at", cached.fetchedAt).
		Str("cache_key", cacheKey).
		Msg("serving stale directions due to provider error")
	return cached.response
}

// cacheKey buckets both endpoints by geohash.
// Format: {maxAlternatives}:{originHash}:{destHash}.
func (s *Service) cacheKey(req DirectionsRequest) string {
	return fmt.Sprintf("%d:%s:%s",
		req.MaxAlternatives,
		geohash.EncodeWithPrecision(req.Origin.Lat, req.Origin.Lon, s.geohashPrecision),
		geohash.EncodeWithPrecision(req.Destination.Lat, req.Destination.Lon, s.geohashPrecision),
	)
}

// cleanupIfNeeded removes entries past the stale window. Caller holds s.mu.
func (s *Service) cleanupIfNeeded(now time.Time) {
	if now.Sub(s.lastCleanup) < s.cleanupInterval {
		return
	}

	s.lastCleanup = now
	expired := 0

	for key, cached := range s.cache {
		if now.After(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
			delete(s.cache, key)
			expired++
		}
	}

	if expired > 0 {
		s.logger.Debug().
			Int("expired_entries", expired).
			Msg("cleaned up expired directions cache entries")
	}
}

// InvalidateCache clears all cached data.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*cachedDirections)
}

// CacheStats contains cache statistics.
type CacheStats struct {
	TotalEntries int    `json:"totalEntries"`
	FreshEntries int    `json:"freshEntries"`
	StaleEntries int    `json:"staleEntries"`
	Provider     string `json:"provider"`
}

// CacheStats returns cache statistics.
func (s *Service) CacheStats() CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	stats := CacheStats{
		TotalEntries: len(s.cache),
		Provider:     s.provider.Name(),
	}

	for _, c := range s.cache {
		if now.Before(c.expiresAt) {
			stats.FreshEntries++
		} else if now.Before(c.fetchedAt.Add(s.staleIfErrorTTL)) {
			stats.StaleEntries++
		}
	}

	return stats
}

// ProviderName returns the name of the underlying provider.
func (s *Service) ProviderName() string {
	return s.provider.Name()
}
