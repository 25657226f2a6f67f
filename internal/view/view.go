// Package view projects a selection state onto what the list and the map show.
package view

import (
	"github.com/driveprofile/driveprofile/internal/ranking"
	"github.com/driveprofile/driveprofile/internal/selection"
	"github.com/driveprofile/driveprofile/pkg/polyline"
)

// Overlay stroke styles.
const (
	StrokeWeightDefault     = 4
	StrokeWeightHighlighted = 7
	zIndexDefault           = 1
	zIndexHighlighted       = 10
)

// ListItem is one row of the ranked route list.
type ListItem struct {
	ID            string           `json:"id"`
	Rank          int              `json:"rank"`
	Summary       string           `json:"summary"`
	ETAMinutes    int              `json:"etaMinutes"`
	DistanceKm    float64          `json:"distanceKm"`
	RoadType      ranking.RoadType `json:"roadType"`
	ActivityScore int              `json:"activityScore"`
	LightingScore int              `json:"lightingScore"`
	Score         float64          `json:"score"`
	Selected      bool             `json:"selected"`
}

// Overlay is one route path drawn on the map.
type Overlay struct {
	RouteID      string           `json:"routeId"`
	Path         []polyline.Point `json:"path"`
	Highlighted  bool             `json:"highlighted"`
	StrokeWeight int              `json:"strokeWeight"`
	ZIndex       int              `json:"zIndex"`
}

// View is the list and map projection of one state. Both halves highlight the
// same route, and exactly one item of each is highlighted iff a route is selected.
type View struct {
	Profile    ranking.Profile  `json:"profile"`
	Phase      selection.Phase  `json:"phase"`
	SelectedID string           `json:"selectedRouteId,omitempty"`
	Items      []ListItem       `json:"items"`
	Overlays   []Overlay        `json:"overlays"`
	Bounds     *polyline.Bounds `json:"bounds,omitempty"`
}

// Build derives the view for state under profile. Scores are recomputed from
// profile; ordering is taken from state as-is. A route whose polyline cannot
// be decoded gets an empty path.
func Build(state selection.State, profile ranking.Profile) View {
	v := View{
		Profile:    profile,
		Phase:      state.Phase(),
		SelectedID: state.SelectedID,
		Items:      make([]ListItem, 0, len(state.Ranked)),
		Overlays:   make([]Overlay, 0, len(state.Ranked)),
	}

	var bounds *polyline.Bounds
	for i, r := range state.Ranked {
		selected := r.ID == state.SelectedID

		v.Items = append(v.Items, ListItem{
			ID:            r.ID,
			Rank:          i + 1,
			Summary:       r.Summary,
			ETAMinutes:    r.ETAMinutes,
			DistanceKm:    r.DistanceKm,
			RoadType:      r.RoadType,
			ActivityScore: r.ActivityScore,
			LightingScore: r.LightingScore,
			Score:         ranking.Score(r, profile),
			Selected:      selected,
		})

		path, err := polyline.Decode(r.Polyline)
		if err != nil || path == nil {
			path = []polyline.Point{}
		}
		if b, ok := polyline.BoundsOf(path); ok {
			if bounds == nil {
				bounds = &b
			} else {
				extended := bounds.Extend(b)
				bounds = &extended
			}
		}

		overlay := Overlay{
			RouteID:      r.ID,
			Path:         path,
			StrokeWeight: StrokeWeightDefault,
			ZIndex:       zIndexDefault,
		}
		if selected {
			overlay.Highlighted = true
			overlay.StrokeWeight = StrokeWeightHighlighted
			overlay.ZIndex = zIndexHighlighted
		}
		v.Overlays = append(v.Overlays, overlay)
	}
	v.Bounds = bounds

	return v
}
