package featureflags

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ServiceConfig holds configuration for the feature flag service.
type ServiceConfig struct {
	Repository   Repository
	Logger       zerolog.Logger
	CacheTTL     time.Duration // How long to cache flags in memory
	DefaultFlags map[string]*Flag
}

// Service provides feature flag evaluation with caching and fallback to defaults.
// A nil *Service evaluates every flag to its default.
type Service struct {
	repo         Repository
	logger       zerolog.Logger
	cacheTTL     time.Duration
	defaultFlags map[string]*Flag

	mu          sync.RWMutex
	cache       map[string]*Flag
	cacheExpiry time.Time
}

// NewService creates a new feature flag service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = time.Minute
	}

	defaultFlags := cfg.DefaultFlags
	if defaultFlags == nil {
		defaultFlags = DefaultFlags()
	}

	repo := cfg.Repository
	if repo == nil {
		repo = NewInMemoryRepository()
	}

	return &Service{
		repo:         repo,
		logger:       cfg.Logger,
		cacheTTL:     cacheTTL,
		defaultFlags: defaultFlags,
		cache:        make(map[string]*Flag),
	}
}

// GetFlag retrieves a feature flag by key.
// Uses the cached value if fresh, then the repository, then the default.
func (s *Service) GetFlag(ctx context.Context, key string) *Flag {
	if s == nil {
		return DefaultFlags()[key]
	}

	if flag := s.getCached(key); flag != nil {
		return flag
	}

	flag, err := s.repo.GetFlag(ctx, key)
	if err == nil {
		s.setCached(key, flag)
		return flag
	}

	if !errors.Is(err, ErrFlagNotFound) {
		s.logger.Warn().Err(err).Str("flag", key).Msg("failed to get feature flag from repository")
	}

	return s.defaultFlags[key]
}

// GetAllFlags returns repository flags merged over defaults.
func (s *Service) GetAllFlags(ctx context.Context) map[string]*Flag {
	result := maps.Clone(s.defaultFlags)

	flags, err := s.repo.GetAllFlags(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to get feature flags from repository, using defaults")
		return result
	}
	maps.Copy(result, flags)

	s.mu.Lock()
	s.cache = flags
	s.cacheExpiry = time.Now().Add(s.cacheTTL)
	s.mu.Unlock()

	return result
}

// List returns all flags sorted by key.
func (s *Service) List(ctx context.Context) []Flag {
	all := s.GetAllFlags(ctx)
	items := make([]Flag, 0, len(all))
	for _, key := range slices.Sorted(maps.Keys(all)) {
		items = append(items, *all[key])
	}
	return items
}

// Update validates and applies a batch of flag updates. Nothing is written
// unless every update is valid.
func (s *Service) Update(ctx context.Context, req FlagUpdateRequest) error {
	if len(req.Updates) == 0 {
		return fmt.Errorf("%w: no updates", ErrInvalidFlagValue)
	}

	var errs []error
	flags := make([]*Flag, 0, len(req.Updates))
	for _, u := range req.Updates {
		if err := u.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		flags = append(flags, &Flag{Key: u.Key, Value: u.Value})
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if err := s.SetFlags(ctx, flags); err != nil {
		return err
	}

	keys := make([]string, len(flags))
	for i, f := range flags {
		keys[i] = f.Key
	}
	s.logger.Info().
		Str("flags", strings.Join(keys, ",")).
		Str("reason", req.Reason).
		Msg("feature flags updated")
	return nil
}

// SetFlag updates a feature flag.
func (s *Service) SetFlag(ctx context.Context, flag *Flag) error {
	return s.SetFlags(ctx, []*Flag{flag})
}

// SetFlags updates multiple feature flags atomically.
func (s *Service) SetFlags(ctx context.Context, flags []*Flag) error {
	now := time.Now()
	for _, flag := range flags {
		flag.UpdatedAt = now
	}

	if err := s.repo.SetFlags(ctx, flags); err != nil {
		return err
	}

	for _, flag := range flags {
		s.setCached(flag.Key, flag)
	}
	return nil
}

// InvalidateCache clears the cached flags, forcing a refresh on next access.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*Flag)
	s.cacheExpiry = time.Time{}
}

// IsEnabled returns true if the flag with the given key is truthy.
func (s *Service) IsEnabled(ctx context.Context, key string) bool {
	return s.GetFlag(ctx, key).BoolValue(false)
}

func (s *Service) getCached(key string) *Flag {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if time.Now().After(s.cacheExpiry) {
		return nil
	}
	return s.cache[key]
}

func (s *Service) setCached(key string, flag *Flag) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache[key] = flag
	if s.cacheExpiry.Before(time.Now()) {
		s.cacheExpiry = time.Now().Add(s.cacheTTL)
	}
}

// Typed accessors for well-known flags.

// MaxAlternatives returns the number of candidate routes to request, clamped
// to [MinAlternatives, MaxAlternatives].
func (s *Service) MaxAlternatives(ctx context.Context) int {
	n := s.GetFlag(ctx, FlagMaxAlternatives).IntValue(MaxAlternatives)
	return min(max(n, MinAlternatives), MaxAlternatives)
}

// ServeStaleDirections reports whether expired directions may be served on provider failure.
func (s *Service) ServeStaleDirections(ctx context.Context) bool {
	return s.GetFlag(ctx, FlagServeStaleDirections).BoolValue(true)
}

// GeocodeCacheDisabled reports whether geocode lookups must bypass the cache.
func (s *Service) GeocodeCacheDisabled(ctx context.Context) bool {
	return s.IsEnabled(ctx, FlagGeocodeCacheDisabled)
}

// DefaultProfile returns the profile id new sessions start with.
func (s *Service) DefaultProfile(ctx context.Context) string {
	return s.GetFlag(ctx, FlagDefaultProfile).StringValue("fast")
}
