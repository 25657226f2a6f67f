// Package featureflags provides feature flag management for runtime configuration.
package featureflags

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/driveprofile/driveprofile/internal/ranking"
)

// Well-known feature flag keys.
const (
	// FlagMaxAlternatives caps how many candidate routes are requested per search.
	FlagMaxAlternatives = "max_alternatives"

	// FlagServeStaleDirections allows expired cached directions to be served
	// while the routing provider is failing.
	FlagServeStaleDirections = "serve_stale_directions"

	// FlagGeocodeCacheDisabled forces every geocode lookup to hit the provider.
	FlagGeocodeCacheDisabled = "geocode_cache_disabled"

	// FlagDefaultProfile names the profile a new session starts with.
	FlagDefaultProfile = "default_profile"
)

// Bounds for FlagMaxAlternatives.
const (
	MinAlternatives = 1
	MaxAlternatives = 3
)

var (
	// ErrUnknownFlag is returned when an update names a key with no default.
	ErrUnknownFlag = errors.New("unknown feature flag")

	// ErrInvalidFlagValue is returned when an update's value has the wrong type or range.
	ErrInvalidFlagValue = errors.New("invalid feature flag value")
)

// Flag represents a feature flag with its current value.
type Flag struct {
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// FlagUpdate represents a single flag update request.
type FlagUpdate struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// FlagUpdateRequest represents a request to update feature flags.
type FlagUpdateRequest struct {
	Updates []FlagUpdate `json:"updates"`
	Reason  string       `json:"reason"`
}

// BoolValue returns the flag value as a boolean.
// Returns the default value if the flag is nil or not a boolean.
func (f *Flag) BoolValue(defaultValue bool) bool {
	if f == nil {
		return defaultValue
	}
	switch v := f.Value.(type) {
	case bool:
		return v
	case float64:
		// JSON unmarshals numbers as float64
		return v != 0
	default:
		return defaultValue
	}
}

// StringValue returns the flag value as a string.
func (f *Flag) StringValue(defaultValue string) string {
	if f == nil {
		return defaultValue
	}
	if v, ok := f.Value.(string); ok {
		return v
	}
	return defaultValue
}

// IntValue returns the flag value as an integer.
func (f *Flag) IntValue(defaultValue int) int {
	if f == nil {
		return defaultValue
	}
	switch v := f.Value.(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return defaultValue
	}
}

// JSONValue unmarshals the flag value into target.
func (f *Flag) JSONValue(target interface{}) error {
	if f == nil {
		return nil
	}
	data, err := json.Marshal(f.Value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// DefaultFlags returns the default feature flags for the application.
func DefaultFlags() map[string]*Flag {
	now := time.Now()
	return map[string]*Flag{
		FlagMaxAlternatives: {
			Key:       FlagMaxAlternatives,
			Value:     float64(MaxAlternatives),
			UpdatedAt: now,
		},
		FlagServeStaleDirections: {
			Key:       FlagServeStaleDirections,
			Value:     true,
			UpdatedAt: now,
		},
		FlagGeocodeCacheDisabled: {
			Key:       FlagGeocodeCacheDisabled,
			Value:     false,
			UpdatedAt: now,
		},
		FlagDefaultProfile: {
			Key:       FlagDefaultProfile,
			Value:     "fast",
			UpdatedAt: now,
		},
	}
}

// Validate checks that an update targets a known flag with a value of the
// right type. Numbers arrive from JSON as float64.
func (u FlagUpdate) Validate() error {
	switch u.Key {
	case FlagServeStaleDirections, FlagGeocodeCacheDisabled:
		if _, ok := u.Value.(bool); !ok {
			return fmt.Errorf("%w: %s must be a boolean", ErrInvalidFlagValue, u.Key)
		}
	case FlagMaxAlternatives:
		n, ok := u.Value.(float64)
		if !ok || n != float64(int(n)) || n < MinAlternatives || n > MaxAlternatives {
			return fmt.Errorf("%w: %s must be an integer between %d and %d",
				ErrInvalidFlagValue, u.Key, MinAlternatives, MaxAlternatives)
		}
	case FlagDefaultProfile:
		s, ok := u.Value.(string)
		if !ok || s == "" {
			return fmt.Errorf("%w: %s must be a non-empty string", ErrInvalidFlagValue, u.Key)
		}
		if _, err := ranking.ParseProfileID(s); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidFlagValue, u.Key, err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFlag, u.Key)
	}
	return nil
}
