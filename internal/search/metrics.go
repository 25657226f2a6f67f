package search

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/driveprofile/driveprofile/internal/search"

// Outcomes recorded on search metrics.
const (
	outcomeOK                  = "ok"
	outcomeNoRoutes            = "no_routes"
	outcomeLocationNotFound    = "location_not_found"
	outcomeProviderUnavailable = "provider_unavailable"
	outcomeCanceled            = "canceled"
	outcomeError               = "error"
)

// Metrics records search outcomes and latency.
type Metrics struct {
	searches    metric.Int64Counter
	duration    metric.Float64Histogram
	routes      metric.Int64Histogram
	superseded  metric.Int64Counter
	liveSession metric.Int64UpDownCounter
}

// NewMetrics creates search instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)

	searches, err := meter.Int64Counter(
		"search.total",
		metric.WithDescription("Route searches by outcome"),
		metric.WithUnit("{search}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"search.duration",
		metric.WithDescription("End-to-end search duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	routes, err := meter.Int64Histogram(
		"search.routes",
		metric.WithDescription("Candidate routes returned per search"),
		metric.WithUnit("{route}"),
	)
	if err != nil {
		return nil, err
	}

	superseded, err := meter.Int64Counter(
		"search.superseded",
		metric.WithDescription("Searches discarded because a newer search started"),
		metric.WithUnit("{search}"),
	)
	if err != nil {
		return nil, err
	}

	liveSession, err := meter.Int64UpDownCounter(
		"search.sessions.live",
		metric.WithDescription("Sessions currently held in memory"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		searches:    searches,
		duration:    duration,
		routes:      routes,
		superseded:  superseded,
		liveSession: liveSession,
	}, nil
}

func (m *Metrics) recordSearch(profile, outcome string, elapsed time.Duration, routeCount int) {
	if m == nil {
		return
	}
	// Background context: the request context may already be canceled.
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("search.profile", profile),
		attribute.String("search.outcome", outcome),
	)
	m.searches.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
	if outcome == outcomeOK {
		m.routes.Record(ctx, int64(routeCount), attrs)
	}
}

func (m *Metrics) recordSuperseded() {
	if m == nil {
		return
	}
	m.superseded.Add(context.Background(), 1)
}

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.liveSession.Add(context.Background(), 1)
}

func (m *Metrics) sessionClosed() {
	if m == nil {
		return
	}
	m.liveSession.Add(context.Background(), -1)
}
