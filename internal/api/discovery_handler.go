package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/makaronz/stillontime/internal/models"
)

// DiscoveryService is the scheduler surface the discovery handlers need.
type DiscoveryService interface {
	Enable(ctx context.Context, userID string, interval time.Duration) error
	Disable(ctx context.Context, userID string) error
	Stats(ctx context.Context) (models.QueueStats, error)
}

// DiscoveryHandler manages per-user periodic discovery settings.
type DiscoveryHandler struct {
	scheduler DiscoveryService
}

func NewDiscoveryHandler(scheduler DiscoveryService) *DiscoveryHandler {
	return &DiscoveryHandler{scheduler: scheduler}
}

type enableRequest struct {
	IntervalMinutes int `json:"intervalMinutes"`
}

// HandleEnable turns on periodic discovery for the authenticated user.
// POST /api/v1/discovery/enable
func (h *DiscoveryHandler) HandleEnable(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(w, r)
	if !ok {
		return
	}

	var req enableRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.IntervalMinutes <= 0 {
		http.Error(w, "intervalMinutes must be positive", http.StatusBadRequest)
		return
	}

	interval := time.Duration(req.IntervalMinutes) * time.Minute
	if err := h.scheduler.Enable(r.Context(), userID, interval); err != nil {
		log.Printf("API: failed to enable discovery for user %s: %v", userID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

// HandleDisable turns off periodic discovery for the authenticated user.
// POST /api/v1/discovery/disable
func (h *DiscoveryHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(w, r)
	if !ok {
		return
	}

	if err := h.scheduler.Disable(r.Context(), userID); err != nil {
		log.Printf("API: failed to disable discovery for user %s: %v", userID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

// HandleStats reports queue counts.
// GET /api/v1/stats
func (h *DiscoveryHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := GetUserIDFromContext(w, r); !ok {
		return
	}

	stats, err := h.scheduler.Stats(r.Context())
	if err != nil {
		log.Printf("API: failed to load queue stats: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, stats)
}
