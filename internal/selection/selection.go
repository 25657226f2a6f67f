// Package selection keeps a ranked result and its selected route consistent.
//
// All transitions are pure functions of (State, Event); the owner of a State
// applies them with Reduce and publishes the result.
package selection

import (
	"errors"

	"github.com/driveprofile/driveprofile/internal/ranking"
)

// ErrInvalidSelection is returned by Select for a route id not in the result.
var ErrInvalidSelection = errors.New("route is not part of the current result")

// Phase is the coarse state of a selection.
type Phase string

const (
	PhaseEmpty        Phase = "empty"
	PhaseHasSelection Phase = "has_selection"
)

// State is a ranked result plus the selected route id. SelectedID is empty
// exactly when Ranked is empty; otherwise it names a route in Ranked.
type State struct {
	Ranked     []ranking.Route
	SelectedID string
}

// Phase reports whether the state holds a selection.
func (s State) Phase() Phase {
	if len(s.Ranked) == 0 {
		return PhaseEmpty
	}
	return PhaseHasSelection
}

// Selected returns the selected route.
func (s State) Selected() (ranking.Route, bool) {
	if s.SelectedID == "" {
		return ranking.Route{}, false
	}
	for _, r := range s.Ranked {
		if r.ID == s.SelectedID {
			return r, true
		}
	}
	return ranking.Route{}, false
}

// Contains reports whether id names a route in the ranked result.
func (s State) Contains(id string) bool {
	for _, r := range s.Ranked {
		if r.ID == id {
			return true
		}
	}
	return false
}

// OnNewSearchResult replaces the state with ranked and selects its top route.
func OnNewSearchResult(ranked []ranking.Route) State {
	routes := make([]ranking.Route, len(ranked))
	copy(routes, ranked)

	s := State{Ranked: routes}
	if len(routes) > 0 {
		s.SelectedID = routes[0].ID
	}
	return s
}

// OnProfileChange re-ranks the existing routes under profile and resets the
// selection to the new top route, discarding any manual selection.
func OnProfileChange(existing []ranking.Route, profile ranking.Profile) State {
	return OnNewSearchResult(ranking.Rank(existing, profile))
}

// OnManualSelect selects routeID. Unknown ids leave the state unchanged.
func OnManualSelect(s State, routeID string) State {
	if !s.Contains(routeID) {
		return s
	}
	s.SelectedID = routeID
	return s
}

// Select is OnManualSelect that reports unknown ids.
func Select(s State, routeID string) (State, error) {
	if !s.Contains(routeID) {
		return s, ErrInvalidSelection
	}
	return OnManualSelect(s, routeID), nil
}
