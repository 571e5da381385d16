package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"acestudio/internal/domain"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	return NewStore(path, zerolog.Nop()), path
}

func TestGetReturnsDefaultsWhenFileMissing(t *testing.T) {
	store, _ := newTestStore(t)

	snap := store.Get()
	if !snap.LMEnabled {
		t.Fatal("expected LM enabled by default")
	}
	if snap.ImageProvider != ProviderNone {
		t.Fatalf("ImageProvider = %q, want %q", snap.ImageProvider, ProviderNone)
	}
	if snap.TurboInferenceSteps != 8 {
		t.Fatalf("TurboInferenceSteps = %d, want 8", snap.TurboInferenceSteps)
	}
}

func TestGetFallsBackOnCorruptDocument(t *testing.T) {
	store, path := newTestStore(t)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	snap := store.Get()
	if snap.ChatModel != "gpt-4o-mini" {
		t.Fatalf("ChatModel = %q, want default", snap.ChatModel)
	}
}

func TestUpdateMergesOnlySuppliedFields(t *testing.T) {
	store, _ := newTestStore(t)

	snap, err := store.Update(map[string]any{
		"chat_enabled":              true,
		"chat_endpoint":             "http://127.0.0.1:1234",
		"image_generation_provider": ProviderLocalAPI,
	})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if !snap.ChatEnabled || snap.ChatEndpoint != "http://127.0.0.1:1234" {
		t.Fatalf("chat fields not applied: %+v", snap)
	}
	if snap.ImageProvider != ProviderLocalAPI {
		t.Fatalf("ImageProvider = %q, want %q", snap.ImageProvider, ProviderLocalAPI)
	}
	// Untouched fields keep their defaults.
	if !snap.LMEnabled || snap.BaseInferenceSteps != 32 {
		t.Fatalf("untouched fields changed: %+v", snap)
	}
}

func TestUpdatePersistsIndentedDocument(t *testing.T) {
	store, path := newTestStore(t)

	if _, err := store.Update(map[string]any{"chat_model": "llama3"}); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading persisted document: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("persisted document is not valid JSON: %v", err)
	}
	if doc["chat_model"] != "llama3" {
		t.Fatalf("chat_model = %v, want llama3", doc["chat_model"])
	}
	if !strings.Contains(string(data), "\n  \"") {
		t.Fatal("expected two-space indented document")
	}
}

func TestUpdateSurvivesRestart(t *testing.T) {
	store, path := newTestStore(t)
	if _, err := store.Update(map[string]any{"turbo_inference_steps": 12}); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	reopened := NewStore(path, zerolog.Nop())
	if got := reopened.Get().TurboInferenceSteps; got != 12 {
		t.Fatalf("TurboInferenceSteps after reload = %d, want 12", got)
	}
}

func TestOnUpdateHookFiresAfterUpdate(t *testing.T) {
	store, _ := newTestStore(t)
	fired := 0
	store.OnUpdate(func() { fired++ })

	store.Get()
	if fired != 0 {
		t.Fatal("hook fired on read")
	}
	if _, err := store.Update(map[string]any{"use_adg": true}); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if fired != 1 {
		t.Fatalf("hook fired %d times, want 1", fired)
	}
}

func TestInferenceStepsPerVariant(t *testing.T) {
	snap := Defaults()
	if got := snap.InferenceSteps(domain.VariantBase); got != 32 {
		t.Fatalf("base steps = %d, want 32", got)
	}
	if got := snap.InferenceSteps(domain.VariantTurbo); got != 8 {
		t.Fatalf("turbo steps = %d, want 8", got)
	}
	if got := snap.InferenceSteps(domain.VariantShift); got != 8 {
		t.Fatalf("shift steps = %d, want 8", got)
	}
}
