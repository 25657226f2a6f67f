package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/driveprofile/driveprofile/internal/api/models"
	"github.com/driveprofile/driveprofile/internal/api/response"
	"github.com/driveprofile/driveprofile/internal/geocoding"
)

// Place search limits.
const (
	defaultPlaceLimit = 5
	maxPlaceLimit     = 10
	maxPlaceQuery     = 256
)

// PlaceSearcher returns candidate places for free text.
type PlaceSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]geocoding.Place, error)
}

// PlacesHandler serves place suggestions for the search form.
type PlacesHandler struct {
	places PlaceSearcher
	logger zerolog.Logger
}

// NewPlacesHandler creates a new PlacesHandler.
func NewPlacesHandler(places PlaceSearcher, logger zerolog.Logger) *PlacesHandler {
	return &PlacesHandler{places: places, logger: logger}
}

// SearchPlaces handles GET /v1/places?q=&limit=.
func (h *PlacesHandler) SearchPlaces(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	switch {
	case q == "":
		response.BadRequest(w, r, "query parameter q is required", []models.FieldError{
			{Field: "q", Message: "required", Code: "REQUIRED"},
		})
		return
	case len(q) > maxPlaceQuery:
		response.BadRequest(w, r, "query parameter q is too long", []models.FieldError{
			{Field: "q", Message: "too long", Code: "TOO_LONG"},
		})
		return
	}

	limit := defaultPlaceLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPlaceLimit {
			response.BadRequest(w, r, "limit must be between 1 and "+strconv.Itoa(maxPlaceLimit), []models.FieldError{
				{Field: "limit", Message: "out of range", Code: "OUT_OF_RANGE"},
			})
			return
		}
		limit = n
	}

	places, err := h.places.Search(r.Context(), q, limit)
	if err != nil {
		if isUnavailable(err) {
			response.ServiceUnavailable(w, r, "geocoding provider is unavailable", providerRetryAfter)
			return
		}
		h.logger.Error().Err(err).Str("query", q).Msg("place search failed")
		response.InternalError(w, r, "place search failed")
		return
	}
	if places == nil {
		places = []geocoding.Place{}
	}

	response.JSON(w, r, http.StatusOK, models.PlaceList{Items: places})
}
