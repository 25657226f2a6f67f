package search

import (
	"errors"
	"fmt"

	"github.com/driveprofile/driveprofile/internal/provider/resilience"
	"github.com/driveprofile/driveprofile/internal/routing"
)

var (
	// ErrLocationNotFound means an endpoint could not be geocoded. The search
	// is aborted and no state is published.
	ErrLocationNotFound = errors.New("location not found")

	// ErrNoRoutesFound means the provider returned no candidates. It is
	// informational: the result carries an empty state.
	ErrNoRoutesFound = errors.New("no routes found")

	// ErrProviderUnavailable is a retryable failure of a map provider.
	ErrProviderUnavailable = routing.ErrProviderUnavailable

	// ErrSuperseded is returned to a search whose result was discarded because
	// a newer search started on the same session.
	ErrSuperseded = errors.New("search superseded by a newer search")

	// ErrInvalidQuery is returned for a blank source or destination.
	ErrInvalidQuery = errors.New("source and destination are required")
)

// Endpoint names which side of a search failed.
type Endpoint string

const (
	EndpointSource      Endpoint = "source"
	EndpointDestination Endpoint = "destination"
)

// LocationError reports an endpoint that resolved to no place.
type LocationError struct {
	Endpoint Endpoint
	Query    string
}

func (e *LocationError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Endpoint, e.Query, ErrLocationNotFound)
}

func (e *LocationError) Unwrap() error {
	return ErrLocationNotFound
}

// isUnavailable reports whether err is a transient provider failure.
func isUnavailable(err error) bool {
	return errors.Is(err, routing.ErrProviderUnavailable) ||
		errors.Is(err, routing.ErrRateLimitExceeded) ||
		errors.Is(err, resilience.ErrCircuitOpen)
}

// classify maps provider failures onto ErrProviderUnavailable, keeping the cause.
func classify(op string, err error) error {
	if isUnavailable(err) && !errors.Is(err, ErrProviderUnavailable) {
		return fmt.Errorf("%s: %w: %w", op, ErrProviderUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
