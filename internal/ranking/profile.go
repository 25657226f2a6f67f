package ranking

import (
	"errors"
	"fmt"
)

// ErrUnknownProfile is returned when a profile id is not in the catalog.
var ErrUnknownProfile = errors.New("unknown driving profile")

// ProfileID identifies a driving profile.
type ProfileID string

const (
	ProfileFast   ProfileID = "fast"
	ProfileSafe   ProfileID = "safe"
	ProfileScenic ProfileID = "scenic"
)

// DefaultProfile is used when a search does not name one.
const DefaultProfile = ProfileFast

// Icon is the symbol shown next to a profile.
type Icon string

const (
	IconNone     Icon = ""
	IconBolt     Icon = "bolt"
	IconShield   Icon = "shield"
	IconMountain Icon = "mountain"
)

// Weights expresses a profile's preference over ETA, activity and lighting.
// Weights are trusted; they are not validated.
type Weights struct {
	ETA      float64 `json:"eta"`
	Activity float64 `json:"activity"`
	Lighting float64 `json:"lighting"`
}

// Profile is a named weight vector.
type Profile struct {
	ID          ProfileID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Weights     Weights   `json:"weights"`
}

// catalog lists the profiles in display order. Adding a profile is appending
// an entry here plus a case in Icon.
var catalog = []Profile{
	{
		ID:          ProfileFast,
		Name:        "Fast",
		Description: "Get there as quickly as possible.",
		Weights:     Weights{ETA: 10, Activity: 0, Lighting: 1},
	},
	{
		ID:          ProfileSafe,
		Name:        "Safe",
		Description: "Prefer well-lit roads, even if it takes longer.",
		Weights:     Weights{ETA: 2, Activity: 2, Lighting: 8},
	},
	{
		ID:          ProfileScenic,
		Name:        "Scenic",
		Description: "Prefer lively, interesting roads over speed.",
		Weights:     Weights{ETA: 1, Activity: 10, Lighting: 5},
	},
}

// Catalog returns a copy of the profile catalog in display order.
func Catalog() []Profile {
	out := make([]Profile, len(catalog))
	copy(out, catalog)
	return out
}

// LookupProfile returns the catalog entry for id.
func LookupProfile(id ProfileID) (Profile, bool) {
	for _, p := range catalog {
		if p.ID == id {
			return p, true
		}
	}
	return Profile{}, false
}

// ParseProfileID validates s against the catalog. An empty string yields DefaultProfile.
func ParseProfileID(s string) (ProfileID, error) {
	if s == "" {
		return DefaultProfile, nil
	}
	id := ProfileID(s)
	if _, ok := LookupProfile(id); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProfile, s)
	}
	return id, nil
}

// Icon returns the profile's icon. Every catalog id has a case; IconNone is
// only returned for ids outside the catalog.
func (id ProfileID) Icon() Icon {
	switch id {
	case ProfileFast:
		return IconBolt
	case ProfileSafe:
		return IconShield
	case ProfileScenic:
		return IconMountain
	default:
		return IconNone
	}
}
