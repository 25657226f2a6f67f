// Package search orchestrates a route search (geocode, fetch, enrich, rank)
// and owns the per-user selection state built from it.
package search

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/driveprofile/driveprofile/internal/geocoding"
	"github.com/driveprofile/driveprofile/internal/ranking"
	"github.com/driveprofile/driveprofile/internal/routing"
	"github.com/driveprofile/driveprofile/internal/selection"
)

// DefaultMaxAlternatives is the number of candidate routes requested when not configured.
const DefaultMaxAlternatives = 3

// DirectionsFetcher fetches candidate routes; satisfied by *routing.Service.
type DirectionsFetcher interface {
	GetDirections(ctx context.Context, req routing.DirectionsRequest) (*routing.DirectionsResponse, error)
}

// Query is a search request.
type Query struct {
	Source      string
	Destination string
	Profile     ranking.ProfileID
}

// Result is the outcome of a successful (or route-less) search.
type Result struct {
	Source      geocoding.Place
	Destination geocoding.Place
	Profile     ranking.Profile
	State       selection.State
	Provider    string
}

// ServiceConfig holds dependencies for Service.
type ServiceConfig struct {
	Geocoder   geocoding.Geocoder
	Directions DirectionsFetcher

	// MaxAlternatives returns how many candidate routes to request.
	// Wired to the max_alternatives feature flag; nil uses DefaultMaxAlternatives.
	MaxAlternatives func(ctx context.Context) int

	// IDs generates route ids; nil uses ranking.NewID.
	IDs ranking.IDGenerator

	Metrics *Metrics
	Logger  zerolog.Logger
}

// Service runs searches. It holds no per-user state and is safe for concurrent use.
type Service struct {
	geocoder        geocoding.Geocoder
	directions      DirectionsFetcher
	maxAlternatives func(ctx context.Context) int
	ids             ranking.IDGenerator
	metrics         *Metrics
	tracer          trace.Tracer
	logger          zerolog.Logger
}

// NewService creates a search service.
func NewService(cfg ServiceConfig) *Service {
	maxAlternatives := cfg.MaxAlternatives
	if maxAlternatives == nil {
		maxAlternatives = func(context.Context) int { return DefaultMaxAlternatives }
	}
	ids := cfg.IDs
	if ids == nil {
		ids = ranking.NewID
	}

	return &Service{
		geocoder:        cfg.Geocoder,
		directions:      cfg.Directions,
		maxAlternatives: maxAlternatives,
		ids:             ids,
		metrics:         cfg.Metrics,
		tracer:          otel.Tracer(instrumentationName),
		logger:          cfg.Logger,
	}
}

// Search resolves both endpoints, fetches candidates, enriches and ranks
// them, and returns the resulting selection state.
//
// A search that finds no routes returns a Result with an empty state
// together with ErrNoRoutesFound. Every other error returns a nil Result.
func (s *Service) Search(ctx context.Context, q Query) (*Result, error) {
	start := time.Now()

	profileID := q.Profile
	if profileID == "" {
		profileID = ranking.DefaultProfile
	}

	ctx, span := s.tracer.Start(ctx, "search.Search", trace.WithAttributes(
		attribute.String("search.profile", string(profileID)),
	))
	defer span.End()

	result, err := s.search(ctx, q, profileID)

	outcome := outcomeFor(err)
	routeCount := 0
	if result != nil {
		routeCount = len(result.State.Ranked)
	}
	s.metrics.recordSearch(string(profileID), outcome, time.Since(start), routeCount)
	span.SetAttributes(
		attribute.String("search.outcome", outcome),
		attribute.Int("search.routes", routeCount),
	)
	if err != nil && outcome != outcomeNoRoutes {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}

	logEvent := s.logger.Info()
	if err != nil && outcome != outcomeNoRoutes && outcome != outcomeLocationNotFound {
		logEvent = s.logger.Warn().Err(err)
	}
	logEvent.
		Str("profile", string(profileID)).
		Str("outcome", outcome).
		Int("routes", routeCount).
		Dur("duration", time.Since(start)).
		Msg("search completed")

	return result, err
}

func (s *Service) search(ctx context.Context, q Query, profileID ranking.ProfileID) (*Result, error) {
	profile, ok := ranking.LookupProfile(profileID)
	if !ok {
		return nil, ranking.ErrUnknownProfile
	}

	source := strings.TrimSpace(q.Source)
	destination := strings.TrimSpace(q.Destination)
	if source == "" || destination == "" {
		return nil, ErrInvalidQuery
	}

	from, to, err := s.resolveEndpoints(ctx, source, destination)
	if err != nil {
		return nil, err
	}

	resp, err := s.directions.GetDirections(ctx, routing.DirectionsRequest{
		Origin:          from.Coordinate,
		Destination:     to.Coordinate,
		MaxAlternatives: s.maxAlternatives(ctx),
	})
	if err != nil {
		return nil, classify("fetching routes", err)
	}

	routes := ranking.Enrich(resp.Routes, source, destination, s.ids)
	state := selection.OnNewSearchResult(ranking.Rank(routes, profile))

	result := &Result{
		Source:      *from,
		Destination: *to,
		Profile:     profile,
		State:       state,
		Provider:    resp.Provider,
	}

	if len(routes) == 0 {
		return result, ErrNoRoutesFound
	}
	return result, nil
}

// resolveEndpoints geocodes source and destination concurrently.
func (s *Service) resolveEndpoints(ctx context.Context, source, destination string) (*geocoding.Place, *geocoding.Place, error) {
	var from, to *geocoding.Place

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		from, err = s.resolve(gctx, EndpointSource, source)
		return err
	})
	g.Go(func() error {
		var err error
		to, err = s.resolve(gctx, EndpointDestination, destination)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func (s *Service) resolve(ctx context.Context, endpoint Endpoint, query string) (*geocoding.Place, error) {
	ctx, span := s.tracer.Start(ctx, "search.geocode", trace.WithAttributes(
		attribute.String("search.endpoint", string(endpoint)),
	))
	defer span.End()

	place, err := s.geocoder.Resolve(ctx, query)
	if err != nil {
		if errors.Is(err, geocoding.ErrEmptyQuery) {
			return nil, &LocationError{Endpoint: endpoint, Query: query}
		}
		span.RecordError(err)
		return nil, classify("geocoding "+string(endpoint), err)
	}
	if place == nil {
		return nil, &LocationError{Endpoint: endpoint, Query: query}
	}
	return place, nil
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, ErrNoRoutesFound):
		return outcomeNoRoutes
	case errors.Is(err, ErrLocationNotFound):
		return outcomeLocationNotFound
	case errors.Is(err, ErrProviderUnavailable):
		return outcomeProviderUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return outcomeCanceled
	default:
		return outcomeError
	}
}
