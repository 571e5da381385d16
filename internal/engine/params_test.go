package engine

import (
	"testing"

	"acestudio/internal/domain"
	"acestudio/internal/settings"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestBuildParamsDefaults(t *testing.T) {
	g := &domain.Generation{
		TaskType:     domain.TaskText2Music,
		Mode:         domain.ModeSimple,
		ModelVariant: domain.VariantTurbo,
		Prompt:       "warm jazz",
	}
	params, cfg := BuildParams(g, settings.Defaults())

	if params.TaskType != "text2music" {
		t.Fatalf("TaskType = %q", params.TaskType)
	}
	if params.Caption != "warm jazz" {
		t.Fatalf("Caption = %q", params.Caption)
	}
	if params.Duration != -1 {
		t.Fatalf("Duration = %v, want -1 when unset", params.Duration)
	}
	if params.InferenceSteps != 8 {
		t.Fatalf("InferenceSteps = %d, want turbo default 8", params.InferenceSteps)
	}
	if params.GuidanceScale != 7.0 {
		t.Fatalf("GuidanceScale = %v", params.GuidanceScale)
	}
	if params.Seed != -1 {
		t.Fatalf("Seed = %d, want -1", params.Seed)
	}
	if params.Shift != 1.0 {
		t.Fatalf("Shift = %v", params.Shift)
	}
	if params.RepaintingStart != 0 || params.RepaintingEnd != -1 {
		t.Fatalf("Repainting = (%v, %v)", params.RepaintingStart, params.RepaintingEnd)
	}
	if params.AudioCoverStrength != 1.0 {
		t.Fatalf("AudioCoverStrength = %v", params.AudioCoverStrength)
	}
	if !params.Thinking {
		t.Fatal("Thinking should default on for simple mode")
	}
	if params.LMTemperature != 0.85 || params.LMCFGScale != 2.0 || params.LMTopP != 0.9 || params.LMTopK != 0 {
		t.Fatalf("LM sampling defaults wrong: %+v", params)
	}
	if params.LMNegativePrompt != "NO USER INPUT" {
		t.Fatalf("LMNegativePrompt = %q", params.LMNegativePrompt)
	}
	if params.VocalLanguage != "unknown" {
		t.Fatalf("VocalLanguage = %q", params.VocalLanguage)
	}
	if params.Instruction != defaultInstruction {
		t.Fatalf("Instruction = %q", params.Instruction)
	}
	if params.InferMethod != "ode" {
		t.Fatalf("InferMethod = %q", params.InferMethod)
	}

	if cfg.BatchSize != 2 {
		t.Fatalf("BatchSize = %d", cfg.BatchSize)
	}
	if !cfg.UseRandomSeed {
		t.Fatal("UseRandomSeed should default true")
	}
	if cfg.AudioFormat != "mp3" {
		t.Fatalf("AudioFormat = %q", cfg.AudioFormat)
	}
}

func TestBuildParamsRecordFieldsWin(t *testing.T) {
	g := &domain.Generation{
		TaskType:        domain.TaskCover,
		Mode:            domain.ModeCustom,
		ModelVariant:    domain.VariantBase,
		Prompt:          "orchestral cover",
		BPM:             intPtr(120),
		DurationSeconds: floatPtr(90),
		Key:             "D major",
		TimeSignature:   "3/4",
		CoverStrength:   intPtr(60),
		SourceAudioPath: "/uploads/source/a.mp3",
	}
	params, _ := BuildParams(g, settings.Defaults())

	if params.BPM == nil || *params.BPM != 120 {
		t.Fatalf("BPM = %v", params.BPM)
	}
	if params.Duration != 90 {
		t.Fatalf("Duration = %v", params.Duration)
	}
	if params.Keyscale != "D major" || params.TimeSignature != "3/4" {
		t.Fatalf("key/timesig = %q/%q", params.Keyscale, params.TimeSignature)
	}
	if params.AudioCoverStrength != 0.6 {
		t.Fatalf("AudioCoverStrength = %v, want 0.6", params.AudioCoverStrength)
	}
	if params.InferenceSteps != 32 {
		t.Fatalf("InferenceSteps = %d, want base default 32", params.InferenceSteps)
	}
	if params.Thinking {
		t.Fatal("Thinking should default off for custom mode")
	}
	if params.SourceAudio != "/uploads/source/a.mp3" {
		t.Fatalf("SourceAudio = %q", params.SourceAudio)
	}
}

func TestBuildParamsMetadataOverrides(t *testing.T) {
	g := &domain.Generation{
		TaskType:     domain.TaskText2Music,
		ModelVariant: domain.VariantTurbo,
		Metadata: domain.Metadata{
			"inference_steps": "16",
			"guidance_scale":  3.5,
			"seed":            float64(1234),
			"thinking":        "false",
			"timesteps":       "0.9, 0.5, 0.1",
			"batch_size":      1,
			"audio_format":    "wav",
			"vocal_language":  "ja",
		},
	}
	params, cfg := BuildParams(g, settings.Defaults())

	if params.InferenceSteps != 16 {
		t.Fatalf("InferenceSteps = %d", params.InferenceSteps)
	}
	if params.GuidanceScale != 3.5 {
		t.Fatalf("GuidanceScale = %v", params.GuidanceScale)
	}
	if params.Seed != 1234 {
		t.Fatalf("Seed = %d", params.Seed)
	}
	if params.Thinking {
		t.Fatal("Thinking override ignored")
	}
	if len(params.Timesteps) != 3 || params.Timesteps[0] != 0.9 || params.Timesteps[2] != 0.1 {
		t.Fatalf("Timesteps = %#v", params.Timesteps)
	}
	if params.VocalLanguage != "ja" {
		t.Fatalf("VocalLanguage = %q", params.VocalLanguage)
	}
	if cfg.BatchSize != 1 || cfg.AudioFormat != "wav" {
		t.Fatalf("config = %+v", cfg)
	}
}

func TestNormalizeMetas(t *testing.T) {
	out := normalizeMetas(map[string]any{
		"key_scale":      "E minor",
		"time_signature": "6/8",
		"bpm":            float64(92),
		"genres":         "  ",
		"extra":          "kept",
	})

	if out["keyscale"] != "E minor" {
		t.Fatalf("keyscale = %v", out["keyscale"])
	}
	if out["timesignature"] != "6/8" {
		t.Fatalf("timesignature = %v", out["timesignature"])
	}
	if out["genres"] != "N/A" {
		t.Fatalf("genres = %v, want N/A for blank", out["genres"])
	}
	if out["duration"] != "N/A" {
		t.Fatalf("duration = %v, want N/A for missing", out["duration"])
	}
	if out["extra"] != "kept" {
		t.Fatalf("extra = %v", out["extra"])
	}
	if v, ok := out.Int("bpm"); !ok || v != 92 {
		t.Fatalf("bpm = %v", out["bpm"])
	}
}
