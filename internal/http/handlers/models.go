package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ModelsList returns the checkpoint catalog with download states.
func (a *App) ModelsList(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"models": a.Models.List()})
}

// ModelDownload starts fetching a checkpoint in the background.
func (a *App) ModelDownload(w http.ResponseWriter, r *http.Request) {
	m, err := a.Models.Download(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusAccepted, m)
}
