package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"acestudio/internal/settings"
)

func newConfigApp(t *testing.T) *App {
	t.Helper()
	store := settings.NewStore(filepath.Join(t.TempDir(), "settings.json"), zerolog.Nop())
	return &App{Settings: store, Logger: zerolog.Nop()}
}

func TestConfigGetIncludesCapabilityFlags(t *testing.T) {
	app := newConfigApp(t)

	rec := httptest.NewRecorder()
	app.ConfigGet(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if doc["image_generation_enabled"] != false {
		t.Fatalf("image_generation_enabled = %v, want false for provider none", doc["image_generation_enabled"])
	}
	if doc["chat_configured"] != false {
		t.Fatalf("chat_configured = %v", doc["chat_configured"])
	}
	if doc["image_generation_provider"] != settings.ProviderNone {
		t.Fatalf("image_generation_provider = %v", doc["image_generation_provider"])
	}
}

func TestConfigUpdateAppliesPartialFields(t *testing.T) {
	app := newConfigApp(t)

	body := strings.NewReader(`{"image_generation_provider":"local-api","turbo_inference_steps":16}`)
	rec := httptest.NewRecorder()
	app.ConfigUpdate(rec, httptest.NewRequest(http.MethodPut, "/api/config", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	snap := app.Settings.Get()
	if snap.ImageProvider != settings.ProviderLocalAPI {
		t.Fatalf("ImageProvider = %q", snap.ImageProvider)
	}
	if snap.TurboInferenceSteps != 16 {
		t.Fatalf("TurboInferenceSteps = %d", snap.TurboInferenceSteps)
	}
	// Untouched fields keep defaults.
	if snap.BaseInferenceSteps != 32 {
		t.Fatalf("BaseInferenceSteps = %d", snap.BaseInferenceSteps)
	}
}

func TestConfigUpdateRejectsEmptyBody(t *testing.T) {
	app := newConfigApp(t)

	rec := httptest.NewRecorder()
	app.ConfigUpdate(rec, httptest.NewRequest(http.MethodPut, "/api/config", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	app.ConfigUpdate(rec, httptest.NewRequest(http.MethodPut, "/api/config", strings.NewReader("not json")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDownloadName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"My Song", "My_Song"},
		{"Café Déjà Vu", "Cafe_Deja_Vu"},
		{"???", "track"},
		{"  spaced  out  ", "spaced__out"},
	}
	for _, tc := range cases {
		if got := downloadName(tc.in); got != tc.want {
			t.Fatalf("downloadName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
