package api

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/makaronz/stillontime/internal/db"
	"github.com/makaronz/stillontime/internal/models"
	"github.com/makaronz/stillontime/internal/pipeline"
)

// PipelineService is the pipeline surface the processing handlers need.
type PipelineService interface {
	EnqueueProcessing(ctx context.Context, userID, messageID string) error
	Retry(ctx context.Context, itemID string) error
}

// ItemReader exposes inbound items for listing and ownership checks.
type ItemReader interface {
	GetByID(ctx context.Context, id string) (*models.InboundItem, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.InboundItem, error)
}

// ProcessHandler handles on-demand processing, item listing and retries.
type ProcessHandler struct {
	pipeline PipelineService
	items    ItemReader
}

func NewProcessHandler(p PipelineService, items ItemReader) *ProcessHandler {
	return &ProcessHandler{pipeline: p, items: items}
}

type processRequest struct {
	MessageID string `json:"messageId"`
}

// HandleProcess enqueues a processing job for the authenticated user.
// POST /api/v1/process
func (h *ProcessHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(w, r)
	if !ok {
		return
	}

	var req processRequest
	if r.ContentLength > 0 && !DecodeJSON(w, r, &req) {
		return
	}

	if err := h.pipeline.EnqueueProcessing(r.Context(), userID, req.MessageID); err != nil {
		log.Printf("API: failed to enqueue processing for user %s: %v", userID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// HandleListItems returns the user's inbound items, newest first.
// GET /api/v1/items
func (h *ProcessHandler) HandleListItems(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(w, r)
	if !ok {
		return
	}

	items, err := h.items.ListByUser(r.Context(), userID, 100)
	if err != nil {
		log.Printf("API: failed to list items for user %s: %v", userID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []*models.InboundItem{}
	}

	WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

// HandleRetry resets a failed item and queues it for reprocessing.
// POST /api/v1/items/{id}/retry
func (h *ProcessHandler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(w, r)
	if !ok {
		return
	}

	itemID := r.PathValue("id")
	item, err := h.items.GetByID(r.Context(), itemID)
	if err != nil {
		if errors.Is(err, db.ErrItemNotFound) {
			http.Error(w, "Item not found", http.StatusNotFound)
			return
		}
		log.Printf("API: failed to load item %s: %v", itemID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if item.UserID != userID {
		// Do not leak existence of other users' items.
		http.Error(w, "Item not found", http.StatusNotFound)
		return
	}

	if err := h.pipeline.Retry(r.Context(), itemID); err != nil {
		if errors.Is(err, pipeline.ErrNotRetryable) {
			http.Error(w, "Item is not in a retryable state", http.StatusConflict)
			return
		}
		log.Printf("API: failed to retry item %s: %v", itemID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
