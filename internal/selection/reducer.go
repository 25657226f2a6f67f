package selection

import "github.com/driveprofile/driveprofile/internal/ranking"

// Event is a message applied to a State by Reduce.
type Event interface {
	isEvent()
}

// NewSearchResult carries a freshly ranked result.
type NewSearchResult struct {
	Ranked []ranking.Route
}

// ProfileChanged re-ranks the current routes under Profile.
type ProfileChanged struct {
	Profile ranking.Profile
}

// ManualSelect selects a route by id.
type ManualSelect struct {
	RouteID string
}

func (NewSearchResult) isEvent() {}
func (ProfileChanged) isEvent()  {}
func (ManualSelect) isEvent()    {}

// Reduce applies e to s and returns the next state. s is never modified.
func Reduce(s State, e Event) State {
	switch e := e.(type) {
	case NewSearchResult:
		return OnNewSearchResult(e.Ranked)
	case ProfileChanged:
		return OnProfileChange(s.Ranked, e.Profile)
	case ManualSelect:
		return OnManualSelect(s, e.RouteID)
	default:
		return s
	}
}
