package ranking

import "github.com/driveprofile/driveprofile/internal/routing"

// ScenicETAFactor is the ETA ratio over the primary route above which an
// alternative is classified as scenic.
const ScenicETAFactor = 1.2

type attributes struct {
	roadType RoadType
	activity int
	lighting int
}

var (
	primaryAttributes   = attributes{roadType: RoadTypeHighway, activity: 4, lighting: 9}
	scenicAttributes    = attributes{roadType: RoadTypeScenic, activity: 8, lighting: 4}
	backroadsAttributes = attributes{roadType: RoadTypeBackroads, activity: 6, lighting: 6}
)

// Enrich turns the provider's raw routes into Routes, one per input in the
// same order. The provider's first route is its primary suggestion and is
// treated as the highway; later routes are scenic when noticeably slower
// than it and backroads otherwise. ids defaults to NewID.
func Enrich(raw []routing.RawRoute, source, destination string, ids IDGenerator) []Route {
	if ids == nil {
		ids = NewID
	}

	routes := make([]Route, 0, len(raw))
	if len(raw) == 0 {
		return routes
	}

	primaryETA := float64(raw[0].ETAMinutes)
	for i, r := range raw {
		attrs := primaryAttributes
		if i > 0 {
			if float64(r.ETAMinutes) > ScenicETAFactor*primaryETA {
				attrs = scenicAttributes
			} else {
				attrs = backroadsAttributes
			}
		}

		routes = append(routes, Route{
			RawRoute:      r,
			ID:            ids(),
			Source:        source,
			Destination:   destination,
			RoadType:      attrs.roadType,
			ActivityScore: attrs.activity,
			LightingScore: attrs.lighting,
		})
	}

	return routes
}
