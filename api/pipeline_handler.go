package api

import (
	"log/slog"
	"net/http"

	"github.com/GoCodeAlone/contentflow/pipeline"
	"github.com/GoCodeAlone/contentflow/store"
)

// PipelineHandler serves the authenticated pipeline management endpoints.
type PipelineHandler struct {
	repo    store.Repository
	runner  *runner
	maxBody int64
	logger  *slog.Logger
}

// List handles GET /pipelines.
func (h *PipelineHandler) List(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.repo.List(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, summaries)
}

// Create handles POST /pipelines.
func (h *PipelineHandler) Create(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	in, err := pipeline.ParseCreate(body)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	def, err := h.repo.Create(r.Context(), in)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	h.logger.Info("Pipeline created", "pipeline", def.ID, "steps", len(def.Steps), "subject", SubjectFromContext(r.Context()))
	WriteJSON(w, http.StatusCreated, def)
}

// Get handles GET /pipelines/{id}.
func (h *PipelineHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	def, err := h.repo.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err, "pipeline", id)
		return
	}
	WriteJSON(w, http.StatusOK, def)
}

// Update handles PATCH /pipelines/{id}.
func (h *PipelineHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	patch, err := pipeline.ParseUpdate(body)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	def, err := h.repo.Update(r.Context(), id, patch)
	if err != nil {
		writeDomainError(w, h.logger, err, "pipeline", id)
		return
	}
	if patch.RotateSecret {
		h.logger.Info("Webhook secret rotated", "pipeline", id, "subject", SubjectFromContext(r.Context()))
	}
	WriteJSON(w, http.StatusOK, def)
}

// Delete handles DELETE /pipelines/{id}. Deleting a missing pipeline
// succeeds.
func (h *PipelineHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.repo.Delete(r.Context(), id); err != nil {
		writeDomainError(w, h.logger, err, "pipeline", id)
		return
	}
	h.logger.Info("Pipeline deleted", "pipeline", id, "subject", SubjectFromContext(r.Context()))
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Run handles POST /pipelines/{id}/run. The pipeline is looked up before the
// body is validated so unknown ids report 404 regardless of payload.
func (h *PipelineHandler) Run(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	def, err := h.repo.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err, "pipeline", id)
		return
	}
	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	in, err := pipeline.ParseRun(body, nil)
	if err != nil {
		writeDomainError(w, h.logger, err, "pipeline", id)
		return
	}
	art, err := h.runner.run(r.Context(), "api", def, in)
	if err != nil {
		writeDomainError(w, h.logger, err, "pipeline", id)
		return
	}
	WriteJSON(w, http.StatusOK, art)
}
