// Package ranking enriches candidate routes with heuristic attributes and
// orders them by a driving profile.
package ranking

import (
	"github.com/google/uuid"

	"github.com/driveprofile/driveprofile/internal/routing"
)

// RoadType classifies the dominant character of a route.
type RoadType string

const (
	RoadTypeHighway RoadType = "Highway"
	// RoadTypeCity is a valid classification that the enrichment rule does not currently produce.
	RoadTypeCity      RoadType = "City"
	RoadTypeScenic    RoadType = "Scenic"
	RoadTypeBackroads RoadType = "Backroads"
)

// Score bounds for ActivityScore and LightingScore.
const (
	MinAttributeScore = 0
	MaxAttributeScore = 10
)

// Route is a raw route enriched with the attributes used for ranking.
// Routes are values; ranking never modifies them.
type Route struct {
	routing.RawRoute

	ID            string   `json:"id"`
	Source        string   `json:"source"`
	Destination   string   `json:"destination"`
	RoadType      RoadType `json:"roadType"`
	ActivityScore int      `json:"activityScore"`
	LightingScore int      `json:"lightingScore"`
}

// IDGenerator returns a fresh route ID on every call.
type IDGenerator func() string

// NewID is the default IDGenerator.
func NewID() string {
	return uuid.NewString()
}
