package handler

import (
	"context"
	"net/http"

	"github.com/driveprofile/driveprofile/internal/api/models"
	"github.com/driveprofile/driveprofile/internal/api/response"
	"github.com/driveprofile/driveprofile/internal/ranking"
)

// DefaultProfileFunc returns the profile id new sessions start with.
type DefaultProfileFunc func(ctx context.Context) string

// defaultProfile resolves fn, falling back to ranking.DefaultProfile when fn
// is nil or names a profile outside the catalog.
func defaultProfile(ctx context.Context, fn DefaultProfileFunc) ranking.ProfileID {
	if fn == nil {
		return ranking.DefaultProfile
	}
	id, err := ranking.ParseProfileID(fn(ctx))
	if err != nil {
		return ranking.DefaultProfile
	}
	return id
}

// ProfilesHandler serves the driving profile catalog.
type ProfilesHandler struct {
	defaultProfile DefaultProfileFunc
}

// NewProfilesHandler creates a new ProfilesHandler.
func NewProfilesHandler(defaultProfile DefaultProfileFunc) *ProfilesHandler {
	return &ProfilesHandler{defaultProfile: defaultProfile}
}

// ListProfiles handles GET /v1/profiles.
func (h *ProfilesHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	list := models.NewProfileList(ranking.Catalog(), defaultProfile(r.Context(), h.defaultProfile))
	w.Header().Set("Cache-Control", "public, max-age=300")
	response.JSON(w, r, http.StatusOK, list)
}
