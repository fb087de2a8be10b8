package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/GoCodeAlone/contentflow/webhook"
)

// DeadLetterHandler exposes the queue dead-letter store.
type DeadLetterHandler struct {
	store   *webhook.DeadLetterStore
	manager *webhook.RetryManager
	logger  *slog.Logger
}

// List handles GET /queue/dead-letters.
func (h *DeadLetterHandler) List(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"deadLetters": h.store.List(),
		"count":       h.store.Count(),
	})
}

// Retry handles POST /queue/dead-letters/{id}/retry.
func (h *DeadLetterHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	delivery, err := h.manager.Replay(r.Context(), id)
	switch {
	case errors.Is(err, webhook.ErrDeadLetterNotFound):
		WriteError(w, http.StatusNotFound, "dead letter not found")
	case err != nil:
		h.logger.Warn("Dead letter replay failed", "delivery", id, "error", err)
		WriteJSON(w, http.StatusBadGateway, map[string]any{
			"error":    "replay failed",
			"delivery": delivery,
		})
	default:
		WriteJSON(w, http.StatusOK, delivery)
	}
}

// Delete handles DELETE /queue/dead-letters/{id}.
func (h *DeadLetterHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.store.Remove(r.PathValue("id")); !ok {
		WriteError(w, http.StatusNotFound, "dead letter not found")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
