package geocoding

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// DefaultCacheSize is the number of place names kept when none is configured.
const DefaultCacheSize = 1024

// CacheConfig configures a CachingGeocoder.
type CacheConfig struct {
	// Size is the maximum number of cached place names.
	Size int

	// Bypass, when it returns true, skips the cache for the request.
	// Wired to the geocode_cache_disabled feature flag.
	Bypass func(ctx context.Context) bool

	Logger zerolog.Logger
}

// CachingGeocoder memoizes another Geocoder. Misses are cached too, so a
// place that cannot be found is not looked up again until evicted.
type CachingGeocoder struct {
	next   Geocoder
	cache  *lru.Cache[string, *Place]
	bypass func(ctx context.Context) bool
	logger zerolog.Logger
}

// NewCachingGeocoder wraps next with an LRU cache.
func NewCachingGeocoder(next Geocoder, cfg CacheConfig) (*CachingGeocoder, error) {
	size := cfg.Size
	if size <= 0 {
		size = DefaultCacheSize
	}

	cache, err := lru.New[string, *Place](size)
	if err != nil {
		return nil, err
	}

	return &CachingGeocoder{
		next:   next,
		cache:  cache,
		bypass: cfg.Bypass,
		logger: cfg.Logger,
	}, nil
}

// Resolve implements Geocoder.
func (g *CachingGeocoder) Resolve(ctx context.Context, placeName string) (*Place, error) {
	key := Normalize(placeName)
	if key == "" {
		return nil, ErrEmptyQuery
	}

	if g.bypass != nil && g.bypass(ctx) {
		return g.next.Resolve(ctx, placeName)
	}

	if place, ok := g.cache.Get(key); ok {
		g.logger.Debug().Str("place", key).Bool("found", place != nil).Msg("geocode cache hit")
		return clonePlace(place), nil
	}

	place, err := g.next.Resolve(ctx, placeName)
	if err != nil {
		return nil, err
	}

	g.cache.Add(key, clonePlace(place))
	return place, nil
}

// Len returns the number of cached entries.
func (g *CachingGeocoder) Len() int {
	return g.cache.Len()
}

// Purge empties the cache.
func (g *CachingGeocoder) Purge() {
	g.cache.Purge()
}

func clonePlace(p *Place) *Place {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
