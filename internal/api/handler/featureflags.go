package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/driveprofile/driveprofile/internal/api/models"
	"github.com/driveprofile/driveprofile/internal/api/response"
	"github.com/driveprofile/driveprofile/internal/featureflags"
)

// FeatureFlagsHandler handles feature flag endpoints.
type FeatureFlagsHandler struct {
	service *featureflags.Service
	logger  zerolog.Logger
}

// FlagList is the response of GET /v1/admin/feature-flags.
type FlagList struct {
	Items []featureflags.Flag `json:"items"`
}

// NewFeatureFlagsHandler creates a new FeatureFlagsHandler.
func NewFeatureFlagsHandler(service *featureflags.Service, logger zerolog.Logger) *FeatureFlagsHandler {
	return &FeatureFlagsHandler{service: service, logger: logger}
}

// ListFeatureFlags handles GET /v1/admin/feature-flags - list all feature flags.
func (h *FeatureFlagsHandler) ListFeatureFlags(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, FlagList{Items: h.service.List(r.Context())})
}

// UpsertFeatureFlags handles PUT /v1/admin/feature-flags. The batch is
// applied only if every update is valid.
func (h *FeatureFlagsHandler) UpsertFeatureFlags(w http.ResponseWriter, r *http.Request) {
	var input featureflags.FlagUpdateRequest
	if err := decodeJSON(w, r, &input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	if err := h.service.Update(r.Context(), input); err != nil {
		if errors.Is(err, featureflags.ErrUnknownFlag) || errors.Is(err, featureflags.ErrInvalidFlagValue) {
			response.BadRequest(w, r, "invalid feature flag update", flagErrors(input.Updates))
			return
		}
		h.logger.Error().Err(err).Msg("failed to update feature flags")
		response.InternalError(w, r, "failed to update feature flags")
		return
	}

	response.JSON(w, r, http.StatusOK, FlagList{Items: h.service.List(r.Context())})
}

// InvalidateCache handles POST /v1/admin/feature-flags/invalidate.
func (h *FeatureFlagsHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	h.service.InvalidateCache()
	h.logger.Info().Msg("feature flag cache invalidated")
	response.NoContent(w, r)
}

func flagErrors(updates []featureflags.FlagUpdate) []models.FieldError {
	var errs []models.FieldError
	if len(updates) == 0 {
		return append(errs, models.FieldError{Field: "updates", Message: "at least one update is required", Code: "REQUIRED"})
	}
	for _, u := range updates {
		err := u.Validate()
		if err == nil {
			continue
		}
		code := "INVALID_VALUE"
		if errors.Is(err, featureflags.ErrUnknownFlag) {
			code = "UNKNOWN_FLAG"
		}
		errs = append(errs, models.FieldError{Field: u.Key, Message: err.Error(), Code: code})
	}
	return errs
}
