package handlers

import (
	"encoding/json"
	"net/http"

	"acestudio/internal/domain"
	"acestudio/internal/settings"
)

// ConfigGet returns the runtime settings document plus derived capability
// flags the UI uses to enable or grey out features.
func (a *App) ConfigGet(w http.ResponseWriter, r *http.Request) {
	snap := a.Settings.Get()

	doc := map[string]any{}
	raw, err := json.Marshal(snap)
	if err != nil {
		a.fail(w, err)
		return
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		a.fail(w, err)
		return
	}
	doc["image_generation_enabled"] = snap.ImageProvider != settings.ProviderNone
	doc["chat_configured"] = snap.ChatEnabled && snap.ChatEndpoint != ""
	doc["model_variants"] = []string{
		string(domain.VariantBase),
		string(domain.VariantTurbo),
		string(domain.VariantShift),
	}
	doc["supports_cover"] = true
	doc["supports_repaint"] = true
	doc["supports_adg"] = true
	a.json(w, http.StatusOK, doc)
}

// ConfigUpdate applies a partial settings update. Unknown keys are ignored by
// the merge; only the supplied fields change.
func (a *App) ConfigUpdate(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if len(fields) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "no fields supplied")
		return
	}
	snap, err := a.Settings.Update(fields)
	if err != nil {
		// The in-memory settings did change; report the persist failure.
		a.Logger.Error().Err(err).Msg("config: persisting settings failed")
		a.error(w, http.StatusInternalServerError, "persist_failed", "settings updated in memory but could not be saved")
		return
	}
	a.json(w, http.StatusOK, snap)
}
