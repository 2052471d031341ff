package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ubi-africa/dispatch-core/internal/domain"
	"github.com/ubi-africa/dispatch-core/internal/presence"
)

// PresenceHandler exposes driver presence heartbeats over HTTP, for drivers
// whose client does not hold a live websocket connection (e.g. background
// location updates). The websocket transport writes heartbeats directly
// against the same registry.
type PresenceHandler struct {
	registry *presence.Registry
}

func NewPresenceHandler(registry *presence.Registry) *PresenceHandler {
	return &PresenceHandler{registry: registry}
}

type heartbeatRequest struct {
	Lat            float64             `json:"lat"`
	Lng            float64             `json:"lng"`
	Availability   domain.Availability `json:"availability"`
	AcceptanceRate float64             `json:"acceptance_rate_pct"`
	DriverClass    domain.DriverClass  `json:"driver_class"`
	TodayTrips     int                 `json:"today_trips"`
	TodayEarnings  float64             `json:"today_earnings"`
	OnlineHours    float64             `json:"online_hours_today"`
}

func (h *PresenceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	driverID := userIDFromContext(r.Context())
	if driverID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, domain.ErrCodeInvalidRequest, "missing authenticated driver")
		return
	}

	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrCodeInvalidRequest, "malformed request body")
		return
	}
	if req.Lat == 0 && req.Lng == 0 {
		writeError(w, http.StatusBadRequest, domain.ErrCodeInvalidLocation, "lat/lng are required")
		return
	}

	p := domain.Presence{
		DriverID:       driverID,
		LastLat:        req.Lat,
		LastLng:        req.Lng,
		LastHeartbeat:  time.Now().UTC(),
		Availability:   req.Availability,
		AcceptanceRate: req.AcceptanceRate,
		DriverClass:    req.DriverClass,
		TodayTrips:     req.TodayTrips,
		TodayEarnings:  req.TodayEarnings,
		OnlineHours:    req.OnlineHours,
	}
	if err := h.registry.Heartbeat(r.Context(), p); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *PresenceHandler) GoOffline(w http.ResponseWriter, r *http.Request) {
	driverID := userIDFromContext(r.Context())
	if driverID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, domain.ErrCodeInvalidRequest, "missing authenticated driver")
		return
	}
	if err := h.registry.Drop(r.Context(), driverID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
