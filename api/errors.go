package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/GoCodeAlone/contentflow/engine"
	"github.com/GoCodeAlone/contentflow/pipeline"
	"github.com/GoCodeAlone/contentflow/store"
	"github.com/GoCodeAlone/contentflow/webhook"
)

// writeDomainError maps err onto the HTTP error taxonomy. Messages never
// carry secrets or upstream response bodies.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error, attrs ...any) {
	var (
		ve *pipeline.ValidationError
		se *engine.StepError
	)
	switch {
	case errors.Is(err, errBodyTooLarge):
		WriteError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.As(err, &ve):
		WriteError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, store.ErrNotFound):
		WriteError(w, http.StatusNotFound, "pipeline not found")
	case webhook.IsAuthError(err):
		WriteError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, engine.ErrNotConfigured):
		logger.Warn("Engine unavailable", append(attrs, "error", err)...)
		WriteError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &se):
		logger.Error("Pipeline execution failed", append(attrs, "step", se.Index, "kind", se.Kind, "error", se.Err)...)
		WriteError(w, http.StatusInternalServerError,
			fmt.Sprintf("pipeline execution failed at step %d (%s)", se.Index, se.Kind))
	case errors.Is(err, engine.ErrSourceUnavailable):
		logger.Warn("Source fetch failed", append(attrs, "error", err)...)
		WriteError(w, http.StatusBadGateway, engine.ErrSourceUnavailable.Error())
	default:
		logger.Error("Request failed", append(attrs, "error", err)...)
		WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
