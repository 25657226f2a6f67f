package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/driveprofile/driveprofile/internal/api/models"
	"github.com/driveprofile/driveprofile/internal/api/response"
	"github.com/driveprofile/driveprofile/internal/featureflags"
	"github.com/driveprofile/driveprofile/internal/provider/resilience"
	"github.com/driveprofile/driveprofile/internal/routing"
)

// readyTimeout bounds provider initialization during a readiness probe.
const readyTimeout = 2 * time.Second

// ProviderHandle is the lazily initialized routing provider.
type ProviderHandle interface {
	Get(ctx context.Context) (routing.Provider, error)
	State() routing.HandleState
	Name() string
}

// DirectionsCache reports directions cache usage.
type DirectionsCache interface {
	CacheStats() routing.CacheStats
}

// Counter reports the size of an in-memory collection.
type Counter interface {
	Len() int
}

// OpsConfig holds dependencies for OpsHandler. Nil components are omitted
// from the status report.
type OpsConfig struct {
	Version   string
	BuildTime string

	Provider   ProviderHandle
	Directions DirectionsCache
	Geocache   Counter
	Sessions   Counter
	Registry   *resilience.Registry
	Flags      *featureflags.Service
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg OpsConfig
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	return &OpsHandler{cfg: cfg}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.cfg.Version,
			"buildTime": h.cfg.BuildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready. The routing provider is
// initialized on demand, so a probe also warms it up.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
	}

	if h.cfg.Provider != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		_, err := h.cfg.Provider.Get(ctx)
		health.Details = map[string]interface{}{
			"provider": h.cfg.Provider.Name(),
			"state":    h.cfg.Provider.State().String(),
		}
		if err != nil {
			health.Status = models.HealthStatusFail
			health.Details["error"] = err.Error()
			response.JSON(w, r, http.StatusServiceUnavailable, health)
			return
		}
	}

	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status - provider and subsystem status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(time.Now()),
		Subsystems: h.subsystems(),
		Providers:  h.providers(),
	}

	for _, s := range status.Subsystems {
		status.Status = worse(status.Status, s.Status)
	}
	for _, p := range status.Providers {
		status.Status = worse(status.Status, p.Status)
	}
	status.ActiveDegradationFlags = h.degradationFlags(r.Context(), status.Status)

	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) subsystems() []models.SubsystemStatus {
	subsystems := []models.SubsystemStatus{}

	if h.cfg.Provider != nil {
		s := models.SubsystemStatus{
			Name:   "routing-provider",
			Status: models.HealthStatusOK,
			Metrics: map[string]interface{}{
				"provider": h.cfg.Provider.Name(),
				"state":    h.cfg.Provider.State().String(),
			},
		}
		if h.cfg.Provider.State() == routing.HandleFailed {
			s.Status = models.HealthStatusFail
		}
		subsystems = append(subsystems, s)
	}

	if h.cfg.Directions != nil {
		stats := h.cfg.Directions.CacheStats()
		subsystems = append(subsystems, models.SubsystemStatus{
			Name:   "directions-cache",
			Status: models.HealthStatusOK,
			Metrics: map[string]interface{}{
				"totalEntries": stats.TotalEntries,
				"freshEntries": stats.FreshEntries,
				"staleEntries": stats.StaleEntries,
			},
		})
	}

	if h.cfg.Geocache != nil {
		subsystems = append(subsystems, models.SubsystemStatus{
			Name:    "geocode-cache",
			Status:  models.HealthStatusOK,
			Metrics: map[string]interface{}{"entries": h.cfg.Geocache.Len()},
		})
	}

	if h.cfg.Sessions != nil {
		subsystems = append(subsystems, models.SubsystemStatus{
			Name:    "sessions",
			Status:  models.HealthStatusOK,
			Metrics: map[string]interface{}{"active": h.cfg.Sessions.Len()},
		})
	}

	return subsystems
}

func (h *OpsHandler) providers() []models.ProviderStatus {
	providers := []models.ProviderStatus{}
	if h.cfg.Registry == nil {
		return providers
	}

	for _, health := range h.cfg.Registry.Snapshot() {
		p := models.ProviderStatus{
			Provider: health.Name,
			Status:   models.HealthStatusOK,
			Circuit:  health.State,
			Requests: health.Requests,
			Failures: health.Failures,
		}
		switch {
		case !health.Available():
			p.Status = models.HealthStatusFail
		case health.Degraded():
			p.Status = models.HealthStatusDegraded
		}
		if health.LastSuccessAt != nil {
			p.LastSuccessAt = models.TimestampPtr(*health.LastSuccessAt)
		}
		if health.LastFailureAt != nil {
			p.LastFailureAt = models.TimestampPtr(*health.LastFailureAt)
		}
		if health.LastError != "" {
			msg := health.LastError
			p.Message = &msg
		}
		providers = append(providers, p)
	}
	return providers
}

// degradationFlags lists the flags currently changing request handling.
// Stale directions only count while something is actually unhealthy.
func (h *OpsHandler) degradationFlags(ctx context.Context, overall models.HealthStatus) []string {
	if h.cfg.Flags == nil {
		return nil
	}

	var active []string
	if h.cfg.Flags.GeocodeCacheDisabled(ctx) {
		active = append(active, featureflags.FlagGeocodeCacheDisabled)
	}
	if overall != models.HealthStatusOK && h.cfg.Flags.ServeStaleDirections(ctx) {
		active = append(active, featureflags.FlagServeStaleDirections)
	}
	return active
}

func worse(a, b models.HealthStatus) models.HealthStatus {
	rank := func(s models.HealthStatus) int {
		switch s {
		case models.HealthStatusFail:
			return 2
		case models.HealthStatusDegraded:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
