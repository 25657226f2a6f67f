// Package geocoding resolves free-text place names to coordinates.
package geocoding

import (
	"context"
	"errors"
	"strings"

	"github.com/driveprofile/driveprofile/internal/routing"
)

// ErrEmptyQuery is returned when the place name is blank.
var ErrEmptyQuery = errors.New("place name is empty")

// Place is a resolved location.
type Place struct {
	Coordinate  routing.Coordinate `json:"coordinate"`
	DisplayName string             `json:"displayName"`
}

// Geocoder resolves a place name. A nil Place with a nil error means no match
// was found; only transport or provider failures are errors.
type Geocoder interface {
	Resolve(ctx context.Context, placeName string) (*Place, error)
}

// Normalize returns the cache key form of a place name.
func Normalize(placeName string) string {
	return strings.ToLower(strings.Join(strings.Fields(placeName), " "))
}
