// Package routing fetches candidate driving routes from a mapping provider.
package routing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for routing operations.
var (
	// ErrProviderUnavailable indicates the routing provider is down or the circuit breaker is open.
	ErrProviderUnavailable = errors.New("routing provider unavailable")
	// ErrRateLimitExceeded indicates the API quota has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrInvalidCoordinates indicates the provided coordinates are invalid or out of range.
	ErrInvalidCoordinates = errors.New("invalid coordinates")
)

// Provider retrieves raw candidate routes between two points.
type Provider interface {
	// GetDirections returns up to MaxAlternatives candidate routes in provider order.
	// An empty Routes slice means the provider found no path; it is not an error.
	GetDirections(ctx context.Context, req DirectionsRequest) (*DirectionsResponse, error)
	// Name returns the provider identifier for logging and metrics.
	Name() string
}

// Coordinate represents a geographic point.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate checks if the coordinate is within valid ranges.
func (c Coordinate) Validate() error {
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %f out of range [-90, 90]", c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("longitude %f out of range [-180, 180]", c.Lon)
	}
	return nil
}

// DirectionsRequest is the request for computing routes.
type DirectionsRequest struct {
	Origin          Coordinate
	Destination     Coordinate
	MaxAlternatives int // Number of candidate routes to request (default: 3)
}

// DirectionsResponse is the response containing candidate routes.
type DirectionsResponse struct {
	Routes    []RawRoute
	Provider  string
	FetchedAt time.Time
}

// RawRoute is an unprocessed candidate path as returned by the provider.
// It is produced once per fetch and never mutated.
type RawRoute struct {
	ETAMinutes int     `json:"etaMinutes"`
	DistanceKm float64 `json:"distanceKm"`
	Polyline   string  `json:"polyline"` // Encoded polyline (precision 5)
	Summary    string  `json:"summary"`
}

// Error provides detailed error information from the routing provider.
type Error struct {
	Provider string // Provider that generated the error
	Code     string // Error code from the provider
	Message  string // Human-readable error message
	Err      error  // Underlying error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is transient and the request can be retried.
func (e *Error) IsRetryable() bool {
	return errors.Is(e.Err, ErrProviderUnavailable) || errors.Is(e.Err, ErrRateLimitExceeded)
}
