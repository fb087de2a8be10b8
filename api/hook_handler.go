package api

import (
	"log/slog"
	"net/http"

	"github.com/GoCodeAlone/contentflow/pipeline"
	"github.com/GoCodeAlone/contentflow/store"
	"github.com/GoCodeAlone/contentflow/webhook"
)

// HookHandler serves signed webhook triggers.
type HookHandler struct {
	repo     store.Repository
	verifier *webhook.Verifier
	runner   *runner
	maxBody  int64
	logger   *slog.Logger
}

// Trigger handles POST /hooks/pipelines/{secret}. Order: lookup by secret
// (404), signature check on the raw body (401), payload validation with the
// pipeline's default source (400), run.
func (h *HookHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	secret := r.PathValue("secret")
	def, err := h.repo.FindByWebhookSecret(r.Context(), secret)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	if err := h.verifier.Verify(def.WebhookSecret, r.Header, body); err != nil {
		h.logger.Warn("Webhook authentication failed", "pipeline", def.ID, "reason", err)
		writeDomainError(w, h.logger, err, "pipeline", def.ID)
		return
	}

	in, err := pipeline.ParseRun(body, def.DefaultSource)
	if err != nil {
		writeDomainError(w, h.logger, err, "pipeline", def.ID)
		return
	}
	art, err := h.runner.run(r.Context(), "webhook", def, in)
	if err != nil {
		writeDomainError(w, h.logger, err, "pipeline", def.ID)
		return
	}
	WriteJSON(w, http.StatusOK, art)
}
