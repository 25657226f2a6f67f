package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/driveprofile/driveprofile/internal/api/models"
	"github.com/driveprofile/driveprofile/internal/api/response"
	"github.com/driveprofile/driveprofile/internal/ranking"
	"github.com/driveprofile/driveprofile/internal/search"
	"github.com/driveprofile/driveprofile/internal/selection"
)

// SessionStore holds live search sessions; satisfied by *search.Store.
type SessionStore interface {
	Create() *search.Session
	Get(id string) (*search.Session, bool)
	Delete(id string) bool
	Touch(id string) bool
}

// SessionsHandler handles search session endpoints.
type SessionsHandler struct {
	store          SessionStore
	defaultProfile DefaultProfileFunc
	logger         zerolog.Logger
}

// NewSessionsHandler creates a new SessionsHandler.
func NewSessionsHandler(store SessionStore, defaultProfile DefaultProfileFunc, logger zerolog.Logger) *SessionsHandler {
	return &SessionsHandler{
		store:          store,
		defaultProfile: defaultProfile,
		logger:         logger,
	}
}

// CreateSession handles POST /v1/sessions. The body is optional; without a
// profile the session starts on the configured default.
func (h *SessionsHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var input models.CreateSessionRequest
	if err := decodeJSON(w, r, &input); err != nil && !errors.Is(err, errEmptyBody) {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	profileID := defaultProfile(r.Context(), h.defaultProfile)
	if input.Profile != "" {
		id, err := ranking.ParseProfileID(input.Profile)
		if err != nil {
			response.BadRequest(w, r, "unknown profile", []models.FieldError{
				{Field: "profile", Message: "unknown profile", Code: "UNKNOWN_PROFILE"},
			})
			return
		}
		profileID = id
	}

	sess := h.store.Create()
	snap := sess.Snapshot()
	if snap.Profile.ID != profileID {
		var err error
		if snap, err = sess.SetProfile(profileID); err != nil {
			h.store.Delete(sess.ID())
			h.logger.Error().Err(err).Msg("failed to set initial session profile")
			response.InternalError(w, r, "failed to create session")
			return
		}
	}

	response.Created(w, r, "/v1/sessions/"+sess.ID(), models.NewSessionView(snap))
}

// GetSession handles GET /v1/sessions/{sessionId}.
func (h *SessionsHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewSessionView(sess.Snapshot()))
}

// DeleteSession handles DELETE /v1/sessions/{sessionId}.
func (h *SessionsHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.store.Delete(chi.URLParam(r, "sessionId")) {
		response.NotFound(w, r, "session not found")
		return
	}
	response.NoContent(w, r)
}

// Search handles POST /v1/sessions/{sessionId}/search.
func (h *SessionsHandler) Search(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var input models.SearchRequest
	if err := decodeJSON(w, r, &input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if errs := input.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "invalid search", errs)
		return
	}

	q := search.Query{Source: input.Source, Destination: input.Destination}
	if input.Profile != "" {
		q.Profile = ranking.ProfileID(input.Profile)
	}

	snap, err := sess.Search(r.Context(), q)
	if err != nil && !errors.Is(err, search.ErrNoRoutesFound) {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewSessionView(snap))
}

// SetProfile handles PUT /v1/sessions/{sessionId}/profile.
func (h *SessionsHandler) SetProfile(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var input models.ProfileRequest
	if err := decodeJSON(w, r, &input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if input.Profile == "" {
		response.BadRequest(w, r, "profile is required", []models.FieldError{
			{Field: "profile", Message: "required", Code: "REQUIRED"},
		})
		return
	}

	snap, err := sess.SetProfile(ranking.ProfileID(input.Profile))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewSessionView(snap))
}

// SelectRoute handles PUT /v1/sessions/{sessionId}/selection.
func (h *SessionsHandler) SelectRoute(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var input models.SelectionRequest
	if err := decodeJSON(w, r, &input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if input.RouteID == "" {
		response.BadRequest(w, r, "routeId is required", []models.FieldError{
			{Field: "routeId", Message: "required", Code: "REQUIRED"},
		})
		return
	}

	snap, err := sess.Select(input.RouteID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewSessionView(snap))
}

func (h *SessionsHandler) session(w http.ResponseWriter, r *http.Request) (*search.Session, bool) {
	sess, ok := h.store.Get(chi.URLParam(r, "sessionId"))
	if !ok {
		response.NotFound(w, r, "session not found")
		return nil, false
	}
	return sess, true
}

// writeError maps session and search failures onto problem responses.
func (h *SessionsHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var locErr *search.LocationError
	switch {
	case errors.As(err, &locErr):
		response.LocationNotFound(w, r, string(locErr.Endpoint), locErr.Query)
	case errors.Is(err, search.ErrInvalidQuery):
		response.BadRequest(w, r, err.Error(), nil)
	case errors.Is(err, ranking.ErrUnknownProfile):
		response.BadRequest(w, r, "unknown profile", []models.FieldError{
			{Field: "profile", Message: "unknown profile", Code: "UNKNOWN_PROFILE"},
		})
	case errors.Is(err, selection.ErrInvalidSelection):
		response.NotFound(w, r, "route is not part of the current result")
	case errors.Is(err, search.ErrSessionClosed):
		response.NotFound(w, r, "session not found")
	case errors.Is(err, search.ErrSuperseded):
		response.Conflict(w, r, "search was superseded by a newer search")
	case isUnavailable(err):
		h.logger.Warn().Err(err).Msg("map provider unavailable")
		response.ServiceUnavailable(w, r, "map provider is temporarily unavailable", providerRetryAfter)
	case r.Context().Err() != nil:
		// The client went away; nobody is left to read a response.
		h.logger.Debug().Err(err).Msg("request canceled")
	default:
		h.logger.Error().Err(err).Msg("session request failed")
		response.InternalError(w, r, "an unexpected error occurred")
	}
}
