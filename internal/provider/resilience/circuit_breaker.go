// Package resilience wraps outbound provider calls (routing, geocoding) in
// timeouts, bounded retries and a circuit breaker.
package resilience

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// BreakerConfig tunes the circuit breaker guarding one provider.
type BreakerConfig struct {
	// Name identifies the breaker in logs and health snapshots.
	Name string

	// HalfOpenProbes is the number of requests let through while half-open.
	// Default: 1
	HalfOpenProbes uint32

	// ResetInterval clears the closed-state counters periodically. Zero keeps them.
	ResetInterval time.Duration

	// OpenTimeout is how long the breaker stays open before probing.
	// Default: 30 seconds
	OpenTimeout time.Duration

	// MinRequests and FailureRatio decide when the breaker trips.
	// Defaults: 5 requests, 0.5
	MinRequests  uint32
	FailureRatio float64

	// Logger receives state transitions. Nil disables logging.
	Logger *zerolog.Logger
}

// DefaultBreakerConfig returns the breaker settings used for map providers.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:           name,
		HalfOpenProbes: 1,
		OpenTimeout:    30 * time.Second,
		MinRequests:    5,
		FailureRatio:   0.5,
	}
}

// tripWhen returns a ReadyToTrip function for the given thresholds.
func tripWhen(minRequests uint32, ratio float64) func(gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		if counts.Requests < minRequests || counts.Requests == 0 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
	}
}

func newBreaker[T any](cfg BreakerConfig) *gobreaker.CircuitBreaker[T] {
	if cfg.HalfOpenProbes == 0 {
		cfg.HalfOpenProbes = 1
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 5
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = 0.5
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenProbes,
		Interval:    cfg.ResetInterval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: tripWhen(cfg.MinRequests, cfg.FailureRatio),
	}

	if cfg.Logger != nil {
		logger := *cfg.Logger
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("provider circuit breaker changed state")
		}
	}

	return gobreaker.NewCircuitBreaker[T](settings)
}
