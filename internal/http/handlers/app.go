// Package handlers implements the JSON API surface.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"acestudio/internal/domain"
	"acestudio/internal/llm"
	"acestudio/internal/modelhub"
	"acestudio/internal/orchestrator"
	"acestudio/internal/settings"
	"acestudio/internal/storage"
)

// App carries the service dependencies shared by every handler.
type App struct {
	Orchestrator *orchestrator.Orchestrator
	Settings     *settings.Store
	Gateway      *llm.Gateway
	Models       *modelhub.Hub
	Uploads      *storage.FileStore
	Logger       zerolog.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, slug, msg string) {
	a.json(w, code, map[string]string{"error": slug, "message": msg})
}

// fail translates domain errors into HTTP responses.
func (a *App) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "record not found")
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrImageDisabled):
		a.error(w, http.StatusConflict, "image_disabled", err.Error())
	case errors.Is(err, domain.ErrNoCoverProduced):
		a.error(w, http.StatusBadGateway, "no_cover", err.Error())
	case errors.Is(err, domain.ErrUnknownModel):
		a.error(w, http.StatusNotFound, "unknown_model", err.Error())
	default:
		a.Logger.Error().Err(err).Msg("handler: internal error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
