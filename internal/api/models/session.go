package models

import (
	"strings"

	"github.com/driveprofile/driveprofile/internal/geocoding"
	"github.com/driveprofile/driveprofile/internal/ranking"
	"github.com/driveprofile/driveprofile/internal/search"
	"github.com/driveprofile/driveprofile/internal/view"
)

// maxPlaceLength bounds free-text place names.
const maxPlaceLength = 256

// CreateSessionRequest is the optional body of POST /v1/sessions.
type CreateSessionRequest struct {
	Profile string `json:"profile,omitempty"`
}

// SearchRequest is the body of POST /v1/sessions/{sessionId}/search.
type SearchRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Profile     string `json:"profile,omitempty"`
}

// Validate returns field errors for blank or oversized place names and
// unknown profiles.
func (r SearchRequest) Validate() []FieldError {
	var errs []FieldError
	errs = appendPlaceErrors(errs, "source", r.Source)
	errs = appendPlaceErrors(errs, "destination", r.Destination)
	if r.Profile != "" {
		if _, err := ranking.ParseProfileID(r.Profile); err != nil {
			errs = append(errs, FieldError{Field: "profile", Message: "unknown profile", Code: "UNKNOWN_PROFILE"})
		}
	}
	return errs
}

func appendPlaceErrors(errs []FieldError, field, value string) []FieldError {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return append(errs, FieldError{Field: field, Message: "required", Code: "REQUIRED"})
	case len(value) > maxPlaceLength:
		return append(errs, FieldError{Field: field, Message: "too long", Code: "TOO_LONG"})
	}
	return errs
}

// ProfileRequest is the body of PUT /v1/sessions/{sessionId}/profile.
type ProfileRequest struct {
	Profile string `json:"profile"`
}

// SelectionRequest is the body of PUT /v1/sessions/{sessionId}/selection.
type SelectionRequest struct {
	RouteID string `json:"routeId"`
}

// ProfileResponse is one catalog entry with its display icon.
type ProfileResponse struct {
	ranking.Profile
	Icon    ranking.Icon `json:"icon"`
	Default bool         `json:"default"`
}

// ProfileList is the response of GET /v1/profiles.
type ProfileList struct {
	Items []ProfileResponse `json:"items"`
}

// NewProfileList converts the catalog, marking defaultID.
func NewProfileList(catalog []ranking.Profile, defaultID ranking.ProfileID) ProfileList {
	items := make([]ProfileResponse, len(catalog))
	for i, p := range catalog {
		items[i] = ProfileResponse{Profile: p, Icon: p.ID.Icon(), Default: p.ID == defaultID}
	}
	return ProfileList{Items: items}
}

// PlaceList is the response of GET /v1/places.
type PlaceList struct {
	Items []geocoding.Place `json:"items"`
}

// SessionView is the published state of a session, projected for display.
type SessionView struct {
	SessionID   string           `json:"sessionId"`
	Version     uint64           `json:"version"`
	Notice      string           `json:"notice,omitempty"`
	Source      *geocoding.Place `json:"source,omitempty"`
	Destination *geocoding.Place `json:"destination,omitempty"`
	UpdatedAt   Timestamp        `json:"updatedAt"`
	view.View
}

// NewSessionView projects a session snapshot.
func NewSessionView(snap search.Snapshot) SessionView {
	return SessionView{
		SessionID:   snap.SessionID,
		Version:     snap.Version,
		Notice:      string(snap.Notice),
		Source:      snap.Source,
		Destination: snap.Destination,
		UpdatedAt:   Timestamp(snap.UpdatedAt),
		View:        view.Build(snap.State, snap.Profile),
	}
}

// Websocket message types.
const (
	MessageTypeView    = "view"
	MessageTypeError   = "error"
	MessageTypeSelect  = "select"
	MessageTypeProfile = "profile"
	MessageTypeSearch  = "search"
)

// ClientMessage is an event sent by a websocket client.
type ClientMessage struct {
	Type        string `json:"type"`
	RouteID     string `json:"routeId,omitempty"`
	Profile     string `json:"profile,omitempty"`
	Source      string `json:"source,omitempty"`
	Destination string `json:"destination,omitempty"`
}

// ServerMessage is pushed to websocket clients.
type ServerMessage struct {
	Type    string       `json:"type"`
	View    *SessionView `json:"view,omitempty"`
	Problem *Problem     `json:"problem,omitempty"`
}
